// Command docingest runs the distributed document-ingestion coordinator:
// the worker loop, run inspection commands, and the coordination schema
// migrator.
package main

import "os"

func main() {
	os.Exit(Execute())
}
