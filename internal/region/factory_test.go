package region

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/willibrandon/tenantmove/internal/config"
)

func TestUnknownRegion(t *testing.T) {
	f := NewFactory(&config.Config{Regions: map[string]config.RegionConfig{}}, nil)
	defer f.Close()

	_, err := f.DB(context.Background(), "mars")
	assert.True(t, errors.Is(err, ErrUnknownRegion))

	_, err = f.Blobs(context.Background(), "")
	assert.True(t, errors.Is(err, ErrUnknownRegion))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "home", displayName(""))
	assert.Equal(t, "eu", displayName("eu"))
}
