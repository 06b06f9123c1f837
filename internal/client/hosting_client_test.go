package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProjectToleratesExisting(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeEnvelope(w, map[string]string{"name": "startup-a1b2c3d4"})
			return
		}
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"success":false,"errors":[{"code":8000007,"message":"A project with this name already exists."}]}`))
	}))
	defer srv.Close()

	c := NewHostingClient(srv.URL, "acct", "token", "pages.dev", 5*time.Second)
	ctx := context.Background()

	require.NoError(t, c.CreateProject(ctx, "startup-a1b2c3d4"))
	require.NoError(t, c.CreateProject(ctx, "startup-a1b2c3d4"), "duplicate create must be treated as success")
}

func TestAttachCustomDomainSkipsWhenAttached(t *testing.T) {
	var attaches int
	mux := http.NewServeMux()
	attached := []map[string]string{}
	mux.HandleFunc("GET /accounts/acct/pages/projects/startup-a1b2c3d4/domains", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, attached)
	})
	mux.HandleFunc("POST /accounts/acct/pages/projects/startup-a1b2c3d4/domains", func(w http.ResponseWriter, r *http.Request) {
		attaches++
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		attached = append(attached, map[string]string{"name": req["name"]})
		writeEnvelope(w, req)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHostingClient(srv.URL, "acct", "token", "pages.dev", 5*time.Second)
	ctx := context.Background()

	assert.True(t, c.AttachCustomDomain(ctx, "startup-a1b2c3d4", "acme.example.com"))
	assert.True(t, c.AttachCustomDomain(ctx, "startup-a1b2c3d4", "acme.example.com"))
	assert.Equal(t, 1, attaches, "second attach must short-circuit on the domain list")
}

func TestAttachCustomDomainFailureIsNonFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewHostingClient(srv.URL, "acct", "token", "pages.dev", 5*time.Second)
	assert.False(t, c.AttachCustomDomain(context.Background(), "startup-a1b2c3d4", "acme.example.com"))
}

func TestSetEnvVarsSkipsEmptyValues(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		json.NewDecoder(r.Body).Decode(&got)
		writeEnvelope(w, map[string]string{"name": "startup-a1b2c3d4"})
	}))
	defer srv.Close()

	c := NewHostingClient(srv.URL, "acct", "token", "pages.dev", 5*time.Second)
	err := c.SetEnvVars(context.Background(), "startup-a1b2c3d4", map[string]string{
		"APP_BACKEND_URL": "https://happy-otter-123.convex.cloud",
		"APP_IDP_ORG_ID":  "",
	})
	require.NoError(t, err)

	configs := got["deployment_configs"].(map[string]interface{})
	prod := configs["production"].(map[string]interface{})
	envVars := prod["env_vars"].(map[string]interface{})
	assert.Contains(t, envVars, "APP_BACKEND_URL")
	assert.NotContains(t, envVars, "APP_IDP_ORG_ID", "empty values must not be sent")
}

func TestSiteURL(t *testing.T) {
	c := NewHostingClient("http://unused", "acct", "token", "pages.dev", time.Second)
	assert.Equal(t, "https://startup-a1b2c3d4.pages.dev", c.SiteURL("startup-a1b2c3d4"))
}
