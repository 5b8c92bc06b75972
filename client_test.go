package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func TestClient_SendsJSONWithTokenAndRequestID(t *testing.T) {
	var (
		gotAuth, gotID, gotType string
		gotBody                 map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/product/seller/list", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotID = r.Header.Get(RequestIDHeader)
		gotType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"message":"success","totalPage":3}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/", staticToken("tok"))

	var out struct {
		TotalPage int `json:"totalPage"`
	}
	err := c.Do(context.Background(), http.MethodPost, "/product/seller/list", map[string]int{"page": 1, "limit": 9}, &out)
	require.NoError(t, err)

	assert.Equal(t, 3, out.TotalPage)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, map[string]any{"page": float64(1), "limit": float64(9)}, gotBody)
	_, err = uuid.Parse(gotID)
	assert.NoError(t, err)
}

func TestClient_AnonymousRequestHasNoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken(""))
	assert.NoError(t, c.Do(context.Background(), http.MethodGet, "/cart/item/count", nil, nil))
}

func TestClient_RemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Cart item does not exist."}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, nil).Do(context.Background(), http.MethodDelete, "/cart/item/delete/x", nil, nil)

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusNotFound, remote.StatusCode)
	assert.Equal(t, "Cart item does not exist.", remote.Message)
}

func TestClient_RemoteErrorWithoutJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, nil).Do(context.Background(), http.MethodGet, "/cart/item/count", nil, nil)

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusBadGateway, remote.StatusCode)
	assert.Empty(t, remote.Message)
	assert.Equal(t, "request failed with status 502", MessageOf(err))
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewClient(url, nil).Do(context.Background(), http.MethodGet, "/cart/item/count", nil, nil)

	var network *NetworkError
	require.True(t, errors.As(err, &network))
	assert.Equal(t, GenericNetworkMessage, MessageOf(err))
}

func TestClient_UndecodableSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	var out map[string]any
	err := NewClient(srv.URL, nil).Do(context.Background(), http.MethodGet, "/cart/item/count", nil, &out)
	require.Error(t, err)

	var remote *RemoteError
	assert.False(t, errors.As(err, &remote))
}
