//go:build integration

package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trustaudit/internal/browser"
)

func TestRenderer_Render_Integration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><div id="out"></div>
<script>document.getElementById("out").textContent = "Acme Roofing 4.6 stars";</script>
</body></html>`)
	}))
	defer srv.Close()

	r := browser.NewRenderer(browser.DefaultConfig())
	defer r.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	html, err := r.Render(ctx, srv.URL)
	require.NoError(t, err)
	require.True(t, strings.Contains(html, "Acme Roofing 4.6 stars"), "script output missing from rendered DOM")
	require.True(t, r.IsConnected())
}
