package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/engine"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, WithTimeout(2*time.Second))
}

func TestCheckSessionDecodesRoleSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/check-session", r.URL.Path)
		_, _ = io.WriteString(w, `{"active":true,"role":"petugas","user":{"id":4,"rfid_uid":"AB12","name":"Budi","role":"petugas","prodi":null,"saldo":0,"timestamp":"2025-03-01T08:00:00.000001"}}`)
	})

	snap, err := c.CheckSession(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Active)
	assert.Equal(t, engine.RolePetugas, snap.SessionRole())
	assert.Equal(t, engine.StatusActive, snap.EffectiveStatus())
	ts, ok := snap.SessionTime()
	require.True(t, ok)
	assert.Equal(t, 2025, ts.Year())
}

func TestCheckSessionFailuresAreTransient(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "server error", handler: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{name: "bad json", handler: func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"active":`)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.handler)
			_, err := c.CheckSession(context.Background())
			assert.ErrorIs(t, err, ErrTransientFetch)
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		c := New("http://127.0.0.1:1")
		_, err := c.CheckSession(context.Background())
		assert.ErrorIs(t, err, ErrTransientFetch)
	})
}

func TestLogoutSendsNormalizedUID(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/logout", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"status":"success","message":"Logout berhasil"}`)
	})

	res, err := c.Logout(context.Background(), " ab12cd ", engine.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "AB12CD", got["rfid_uid"])
	assert.Equal(t, "admin", got["role"])
}

func TestLogoutFailureWrapsSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Logout(context.Background(), "AB12", engine.RoleUser)
	assert.ErrorIs(t, err, ErrBackendLogout)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestCreateUser(t *testing.T) {
	t.Run("validation happens before the request", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatalf("backend must not be called")
		})
		_, err := c.CreateUser(context.Background(), NewUser{RFIDUID: "AB", Name: "Sari"})
		assert.ErrorIs(t, err, ErrInvalidRegistration)
	})

	t.Run("role defaults to user", func(t *testing.T) {
		var got NewUser
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"status":"success","message":"User berhasil didaftarkan","user":{"id":9}}`)
		})
		res, err := c.CreateUser(context.Background(), NewUser{RFIDUID: "ab12", Name: " Sari ", Username: "sari", Role: "superuser"})
		require.NoError(t, err)
		assert.Equal(t, "success", res.Status)
		assert.Equal(t, engine.RoleUser, got.Role)
		assert.Equal(t, "AB12", got.RFIDUID)
		assert.Equal(t, "Sari", got.Name)
	})

	t.Run("duplicate card", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"status":"error","message":"RFID sudah terdaftar"}`)
		})
		res, err := c.CreateUser(context.Background(), NewUser{RFIDUID: "AB12", Name: "Sari", Username: "sari"})
		assert.ErrorIs(t, err, ErrAlreadyRegistered)
		assert.Equal(t, "RFID sudah terdaftar", res.Message)
	})
}

func TestUpdateBinRange(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"success"}`)
	})
	_, err := c.UpdateBin(context.Background(), "siap", -1)
	assert.ErrorIs(t, err, ErrInvalidBinUpdate)
	_, err = c.UpdateBin(context.Background(), "siap", 1001)
	assert.ErrorIs(t, err, ErrInvalidBinUpdate)

	out, err := c.UpdateBin(context.Background(), "siap", 30)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success"}`, string(out))
}

func TestScanTrashUploadsMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "trash.jpg", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "jpegbytes", string(data))
		_, _ = io.WriteString(w, `{"status":"success","label":"plastik","points":3000,"new_saldo":9000}`)
	})

	res, err := c.ScanTrash(context.Background(), strings.NewReader("jpegbytes"))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, int64(3000), res.Points)
	assert.Contains(t, string(res.Raw), "plastik")
}

func TestChatRejectsEmptyQuestion(t *testing.T) {
	c := New("http://unused")
	_, err := c.Chat(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrBackend)
}
