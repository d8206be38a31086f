package clients

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

	"fitjourney/internal/booking"
	"fitjourney/internal/httpx"
	"fitjourney/internal/identity"
)

func TestClientLoginAndBook(t *testing.T) {
	sessionID := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "maria", in["username"])
		httpx.WriteJSON(w, http.StatusOK, identity.Token{Token: "tok-1", Role: identity.RoleMember})
	})
	mux.HandleFunc("POST /member/classes/book", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		var in struct {
			SessionID uuid.UUID `json:"session_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		httpx.WriteJSON(w, http.StatusOK, booking.ClassBooking{ID: uuid.New(), SessionID: in.SessionID, Status: booking.StatusActive})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL+"/", srv.Client())
	tok, err := c.Login(context.Background(), "maria", "secret1")
	require.NoError(t, err)

	b, err := c.WithToken(tok.Token).BookClass(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, b.SessionID)
	assert.Equal(t, booking.StatusActive, b.Status)
}

func TestClientDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusConflict, httpx.ErrorResponse{Error: "class is full", Code: "capacity_exceeded"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).WithToken("t").BookClass(context.Background(), uuid.New())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "capacity_exceeded", apiErr.Code)
	assert.Equal(t, "class is full", apiErr.Message)
}

func TestClientCancelAcceptsNoContent(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/member/classes/bookings/"+id.String(), r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL, nil).WithToken("t").CancelBooking(context.Background(), id))
}

func TestWithTokenDoesNotMutateParent(t *testing.T) {
	c := NewClient("http://localhost:8080", nil)
	member := c.WithToken("abc")
	assert.Empty(t, c.token)
	assert.Equal(t, "abc", member.token)
}
