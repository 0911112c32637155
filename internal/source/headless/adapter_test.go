package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jurisia/intake/internal/config"
	"github.com/jurisia/intake/internal/pipeline"
)

func TestNewValidation(t *testing.T) {
	_, err := New(config.SourceConfig{ID: "no-url"}, &Browser{}, zap.NewNop())
	require.Error(t, err)

	_, err = New(config.SourceConfig{ID: "no-browser", URL: "https://example.test"}, nil, zap.NewNop())
	require.Error(t, err)
}

func TestListURLAppendsCursor(t *testing.T) {
	adapter, err := New(config.SourceConfig{
		ID:  "esaj",
		URL: "https://esaj.example.test/publicacoes",
	}, &Browser{}, zap.NewNop())
	require.NoError(t, err)

	u, err := adapter.listURL("2024-04-03/1842")
	require.NoError(t, err)
	require.Equal(t, "https://esaj.example.test/publicacoes?desde=2024-04-03%2F1842", u)

	u, err = adapter.listURL("")
	require.NoError(t, err)
	require.Equal(t, "https://esaj.example.test/publicacoes", u)
}

func TestFetchRendersPortal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!doctype html><html><body>
<span class="edicao">2024-04-03/1842</span>
<script>
var d = document.createElement('div');
d.className = 'publicacao';
d.setAttribute('data-ref', 'ESAJ-0001');
d.innerHTML = '<span class="processo">0001234-56.2024.8.26.0100</span><p class="texto">Intimação eletrônica.</p>';
document.body.appendChild(d);
</script>
</body></html>`)
	}))
	defer server.Close()

	browser, err := NewBrowser("intake-test", 1)
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer browser.Close()

	adapter, err := New(config.SourceConfig{
		ID:            "esaj",
		URL:           server.URL,
		RatePerSecond: 10,
	}, browser, zap.NewNop())
	require.NoError(t, err)

	result, err := adapter.Fetch(context.Background(), "")
	if err != nil {
		t.Skipf("render failed: %v", err)
	}
	require.Equal(t, pipeline.OutcomeSuccess, result.Outcome)
	require.Equal(t, "2024-04-03/1842", result.NextCursor)
	require.Len(t, result.Records, 1)
	require.Equal(t, "ESAJ-0001", result.Records[0].ExternalRef)
}
