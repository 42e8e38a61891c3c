package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmdatafocus/pos_engine/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSaleSendsLocalIdAsIdempotencyKey(t *testing.T) {
	var got models.SaleRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/sales", r.URL.Path)
		require.Equal(t, "test", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClientForTest(srv.URL)
	err := c.CreateSale(context.Background(), models.SaleRecord{ID: "local-1", ScopeId: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "local-1", got.ID)
}

func TestCreateSaleConflictIsDuplicateWrite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	err := NewClientForTest(srv.URL).CreateSale(context.Background(), models.SaleRecord{ID: "local-1"})
	assert.ErrorIs(t, err, ErrDuplicateWrite)
	assert.False(t, IsTransient(err))
}

func TestServerErrorsAreTransient(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests, http.StatusRequestTimeout} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		err := NewClientForTest(srv.URL).CreateSale(context.Background(), models.SaleRecord{ID: "x"})
		assert.True(t, IsTransient(err), "status %d must be transient", status)
		srv.Close()
	}
}

func TestClientRejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("bad payload"))
	}))
	defer srv.Close()

	err := NewClientForTest(srv.URL).CreateSale(context.Background(), models.SaleRecord{ID: "x"})
	require.Error(t, err)
	assert.False(t, IsTransient(err))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "bad payload")
}

func TestConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening anymore

	err := NewClientForTest(srv.URL).CreateSale(context.Background(), models.SaleRecord{ID: "x"})
	assert.True(t, IsTransient(err))
}

func TestListSalesWalksCursorPagination(t *testing.T) {
	pages := map[string]saleListResponse{
		"": {
			Data:       []models.SaleRecord{{ID: "a"}, {ID: "b"}},
			NextCursor: "p2",
		},
		"p2": {
			Data: []models.SaleRecord{{ID: "c"}},
		},
	}
	var seenDays []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenDays = append(seenDays, r.URL.Query().Get("day"))
		page := pages[r.URL.Query().Get("cursor")]
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	sales, err := NewClientForTest(srv.URL).ListSales(context.Background(), "c1", "2026-08-29", "")
	require.NoError(t, err)
	require.Len(t, sales, 3)
	assert.Equal(t, "c", sales[2].ID)
	assert.Equal(t, []string{"2026-08-29", "2026-08-29"}, seenDays)
}

func TestMaxBusinessOrdinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/sales/max-ordinal", r.URL.Path)
		_, _ = w.Write([]byte(`{"max_ordinal": 77}`))
	}))
	defer srv.Close()

	max, err := NewClientForTest(srv.URL).MaxBusinessOrdinal(context.Background(), "c1", "2026-08-29")
	require.NoError(t, err)
	assert.Equal(t, int64(77), max)
}

func TestPingTreatsAuthErrorAsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	// The link is up; only transport-level failures count as unreachable.
	assert.NoError(t, NewClientForTest(srv.URL).Ping(context.Background()))
}

func TestPingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, NewClientForTest(srv.URL).Ping(ctx))
}

func TestUpdateSaleStatusPatchesByRemoteId(t *testing.T) {
	var method, path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	at := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	err := NewClientForTest(srv.URL).UpdateSaleStatus(context.Background(), "s1", models.SaleStatusServed, at)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "/v1/sales/s1", path)
	assert.Equal(t, "SERVED", body["current_status"])
	assert.Equal(t, "2026-08-29T12:00:00Z", body["status_changed_at"])
}
