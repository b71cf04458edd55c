package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const letItBe = `{
	"resultCount": 1,
	"results": [{
		"wrapperType": "track", "artistName": "The Beatles", "trackName": "Let It Be",
		"collectionName": "Let It Be", "primaryGenreName": "Rock", "trackCount": 12,
		"releaseDate": "1970-03-06T08:00:00Z"
	}]
}`

// writeConfig points a config at a fake iTunes catalog and a temporary
// settings database, with every other provider switched off.
func writeConfig(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.RawQuery, "Nobody") {
			io.WriteString(w, `{"resultCount": 0, "results": []}`)
			return
		}
		io.WriteString(w, letItBe)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := fmt.Sprintf(`settings:
  path: %s
lyrics:
  enabled: false
providers:
  musicbrainz:
    enabled: false
  itunes:
    enabled: true
    base_url: %s
  lastfm:
    enabled: false
  spotify:
    enabled: false
  genius:
    enabled: false
`, filepath.Join(dir, "settings.db"), srv.URL)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestEnrichJSON(t *testing.T) {
	cfg := writeConfig(t)

	out, errOut, code := runCLI(t, "", "--config", cfg, "enrich", "--json", "The Beatles", "Let It Be")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	for _, want := range []string{`"source": "iTunes"`, `"album": "Let It Be"`, `"genre": "Rock"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
}

func TestEnrichNoMatch(t *testing.T) {
	cfg := writeConfig(t)

	out, _, code := runCLI(t, "", "--config", cfg, "enrich", "Nobody", "Nothing")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(out, "No metadata found for Nobody - Nothing") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestEnrichRequiresTwoArgs(t *testing.T) {
	cfg := writeConfig(t)

	_, errOut, code := runCLI(t, "", "--config", cfg, "enrich", "The Beatles")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "Error:") {
		t.Errorf("stderr = %q, want an error line", errOut)
	}
}

func TestBatchFromStdin(t *testing.T) {
	cfg := writeConfig(t)
	input := "# tracks\nThe Beatles - Let It Be\n\nNobody - Nothing\n"

	out, errOut, code := runCLI(t, input, "--config", cfg, "batch", "--workers", "2")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, "1 of 2 tracks matched") {
		t.Errorf("missing summary:\n%s", out)
	}
	if !strings.Contains(out, "iTunes") {
		t.Errorf("results table missing the source:\n%s", out)
	}
}

func TestBatchFromFileJSON(t *testing.T) {
	cfg := writeConfig(t)
	input := filepath.Join(t.TempDir(), "tracks.json")
	if err := os.WriteFile(input, []byte(`[{"artist":"The Beatles","title":"Let It Be"}]`), 0600); err != nil {
		t.Fatal(err)
	}

	out, errOut, code := runCLI(t, "", "--config", cfg, "batch", "--json", input)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, `"source": "iTunes"`) {
		t.Errorf("output missing the match:\n%s", out)
	}
}

func TestProvidersListsConfigured(t *testing.T) {
	cfg := writeConfig(t)

	out, _, code := runCLI(t, "", "--config", cfg, "providers")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(out, "iTunes") || strings.Contains(out, "MusicBrainz") {
		t.Errorf("unexpected providers table:\n%s", out)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Setenv("LASTFM_API_KEY", "")
	cfg := writeConfig(t)

	if _, errOut, code := runCLI(t, "", "--config", cfg, "settings", "set", "metadata.lastfm.api-key", "abcdef123456"); code != 0 {
		t.Fatalf("set failed: %s", errOut)
	}

	out, _, code := runCLI(t, "", "--config", cfg, "settings", "list")
	if code != 0 {
		t.Fatalf("list exit code = %d", code)
	}
	if !strings.Contains(out, "********3456") {
		t.Errorf("list should mask the value:\n%s", out)
	}
	if strings.Contains(out, "abcdef123456") {
		t.Errorf("list leaked the value:\n%s", out)
	}

	out, _, _ = runCLI(t, "", "--config", cfg, "settings", "get", "--reveal", "metadata.lastfm.api-key")
	if strings.TrimSpace(out) != "abcdef123456 (store)" {
		t.Errorf("get --reveal = %q", out)
	}

	if _, errOut, code := runCLI(t, "", "--config", cfg, "settings", "delete", "metadata.lastfm.api-key"); code != 0 {
		t.Fatalf("delete failed: %s", errOut)
	}
	out, _, _ = runCLI(t, "", "--config", cfg, "settings", "get", "metadata.lastfm.api-key")
	if !strings.Contains(out, "(unset)") {
		t.Errorf("get after delete = %q, want unset", out)
	}
}

func TestSettingsRejectsUnknownAndBlank(t *testing.T) {
	cfg := writeConfig(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown key", []string{"settings", "set", "nope", "x"}, "unknown setting"},
		{"blank value", []string{"settings", "set", "metadata.genius.token", "  "}, "value is blank"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", cfg}, tt.args...)
			_, errOut, code := runCLI(t, "", args...)
			if code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("stderr = %q, want %q", errOut, tt.want)
			}
		})
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, errOut, code := runCLI(t, "", "config", "init", "--path", path)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, path) {
		t.Errorf("output = %q, want the path", out)
	}

	_, errOut, code = runCLI(t, "", "config", "init", "--path", path)
	if code != 1 || !strings.Contains(errOut, "already exists") {
		t.Errorf("second init: code=%d stderr=%q", code, errOut)
	}

	if _, _, code := runCLI(t, "", "config", "init", "--path", path, "--overwrite"); code != 0 {
		t.Errorf("init --overwrite exit code = %d", code)
	}

	out, errOut, code = runCLI(t, "", "--config", path, "config", "validate")
	if code != 0 {
		t.Fatalf("validate: code=%d stderr=%s", code, errOut)
	}
	if !strings.Contains(out, "Configuration OK") {
		t.Errorf("validate output = %q", out)
	}
}

func TestConfigValidateReportsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("batch:\n  workers: 0\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, errOut, code := runCLI(t, "", "--config", path, "config", "validate")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "workers") {
		t.Errorf("stderr = %q, want it to name the field", errOut)
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Name", "Count"}, [][]string{{"a", "1"}, {"b"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"Name", "Count", "a", "1", "b"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("empty headers should render nothing")
	}
}
