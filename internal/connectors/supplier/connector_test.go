package supplier

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"catalogsync/internal/apperr"
	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feed = `[
	{"sku":"DD1391-100","name":"Dunk Low Panda","sizes":[
		{"size":"40","price":"110.00","stock":2},
		{"size":"41","price":110,"stock":0}
	]},
	{"sku":" CW2288-111 ","name":"Air Force 1","sizes":[]}
]`

func TestFetchOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	sc := New("supplier", srv.URL, 0, logger.NewNop())
	entities, err := sc.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 2)

	panda := entities[0]
	assert.Equal(t, "DD1391-100", panda.SKU)
	require.Len(t, panda.Variations, 2)
	assert.Equal(t, "DD1391-100-40", panda.Variations[0].Key)
	assert.Equal(t, "110", panda.Variations[1].Price.String())
	assert.Equal(t, catalog.StockOutOfStock, panda.Variations[1].StockStatus())

	assert.Equal(t, "CW2288-111", entities[1].SKU)
	assert.Empty(t, entities[1].Variations)
}

func TestFetchFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.json")
	require.NoError(t, os.WriteFile(path, []byte(feed), 0o644))

	sc := New("supplier", "file://"+path, 0, logger.NewNop())
	entities, err := sc.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, entities, 2)
	assert.Equal(t, "supplier", sc.Name())
}

func TestFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New("supplier", srv.URL, 0, logger.NewNop()).Fetch(context.Background())
	assert.True(t, apperr.IsRetryable(err))

	_, err = New("supplier", "", 0, logger.NewNop()).Fetch(context.Background())
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = New("supplier", path, 0, logger.NewNop()).Fetch(context.Background())
	assert.Error(t, err)
}
