package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evalgo-org/docingest/internal/cerrors"
)

func TestExitCodeFor_MapsErrorTaxonomyToSpecExitCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"config invalid", fmt.Errorf("wrap: %w", cerrors.ErrConfigInvalid), exitConfigInvalid},
		{"store unreachable", fmt.Errorf("wrap: %w", cerrors.ErrTransientStore), exitStoreUnreachable},
		{"run terminal", fmt.Errorf("wrap: %w", cerrors.ErrRunTerminal), exitRunTerminal},
		{"unrecognized error", errors.New("boom"), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCodeFor(tc.err))
		})
	}
}

func TestDBURLFromEnv_RequiresCoordDBURL(t *testing.T) {
	t.Setenv("COORD_DB_URL", "")
	_, err := dbURLFromEnv()
	assert.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrConfigInvalid)
}
