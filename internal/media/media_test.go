// ABOUTME: Tests for the HTTP media uploader
// ABOUTME: Uses an httptest server standing in for the media store

package media

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPUploader_Upload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "photo.jpg", header.Filename)
		fmt.Fprint(w, `{"url":"https://cdn.example.com/photo.jpg"}`)
	}))
	defer server.Close()

	u := NewHTTPUploader(server.URL)

	url, err := u.Upload(t.Context(), Attachment{Name: "photo.jpg", Data: []byte("jpeg bytes")})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/photo.jpg", url)
}

func TestHTTPUploader_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage full", http.StatusInternalServerError)
	}))
	defer server.Close()

	u := NewHTTPUploader(server.URL)

	_, err := u.Upload(t.Context(), Attachment{Name: "photo.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPUploader_MissingURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	u := NewHTTPUploader(server.URL)

	_, err := u.Upload(t.Context(), Attachment{Name: "photo.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no url")
}
