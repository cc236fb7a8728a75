package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func TestLoadDoneFile_Missing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "done.json")
	d, err := LoadDoneFile(path)
	if err != nil {
		t.Fatalf("LoadDoneFile error: %v", err)
	}
	if d.Len() != 0 {
		t.Errorf("Len() = %d, want 0", d.Len())
	}
	if d.Path() != path {
		t.Errorf("Path() = %q, want %q", d.Path(), path)
	}
}

func TestDoneFile_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "done.json")
	d, err := LoadDoneFile(path)
	if err != nil {
		t.Fatalf("LoadDoneFile error: %v", err)
	}
	d.Add("https://www.perplexity.ai/search/a")
	d.Add("https://www.perplexity.ai/search/b")
	d.Add("https://www.perplexity.ai/search/a")

	if err := d.Save(); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	var onDisk map[string][]string
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("done file is not JSON: %v", err)
	}
	want := []string{"https://www.perplexity.ai/search/a", "https://www.perplexity.ai/search/b"}
	if !reflect.DeepEqual(onDisk["processedUrls"], want) {
		t.Errorf("processedUrls = %v, want %v", onDisk["processedUrls"], want)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after save")
	}

	reloaded, err := LoadDoneFile(path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if !reflect.DeepEqual(reloaded.URLs(), want) {
		t.Errorf("URLs() = %v, want %v", reloaded.URLs(), want)
	}
	if !reloaded.Contains("https://www.perplexity.ai/search/b") {
		t.Error("expected reloaded set to contain b")
	}
	if reloaded.Contains("https://www.perplexity.ai/search/c") {
		t.Error("unexpected c")
	}
}

func TestDoneFile_EmptySaveWritesArray(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "done.json")
	d, _ := LoadDoneFile(path)
	if err := d.Save(); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "{\n  \"processedUrls\": []\n}" {
		t.Errorf("unexpected contents: %s", raw)
	}
}

func TestLoadDoneFile_Corrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "done.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDoneFile(path); err == nil {
		t.Error("expected error for corrupt done file")
	}
}

func TestLoadDoneFile_DedupesExisting(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "done.json")
	if err := os.WriteFile(path, []byte(`{"processedUrls":["x","y","x"]}`), 0644); err != nil {
		t.Fatal(err)
	}
	d, err := LoadDoneFile(path)
	if err != nil {
		t.Fatalf("LoadDoneFile error: %v", err)
	}
	if d.Len() != 2 {
		t.Errorf("Len() = %d, want 2", d.Len())
	}
}

func TestDoneFile_ConcurrentAdd(t *testing.T) {
	t.Parallel()

	d, _ := LoadDoneFile(filepath.Join(t.TempDir(), "done.json"))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Add("https://x/" + string(rune('a'+i%10)))
			_ = d.Contains("https://x/a")
		}(i)
	}
	wg.Wait()
	if d.Len() != 10 {
		t.Errorf("Len() = %d, want 10", d.Len())
	}
}
