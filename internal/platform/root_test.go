package platform

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindSettings(t *testing.T) {
	// /tmp/
	//   app/ (silo.yaml)
	//     subdir/
	//       nested/
	//   empty/

	baseDir := t.TempDir()
	appDir := filepath.Join(baseDir, "app")
	subDir := filepath.Join(appDir, "subdir")
	nestedDir := filepath.Join(subDir, "nested")
	emptyDir := filepath.Join(baseDir, "empty")

	if err := os.MkdirAll(nestedDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(emptyDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(appDir, "silo.yaml"), []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// A directory named like a settings file is not a settings file.
	if err := os.Mkdir(filepath.Join(subDir, "silo.yml"), 0755); err != nil {
		t.Fatal(err)
	}

	want := filepath.Join(appDir, "silo.yaml")
	tests := []struct {
		name      string
		startPath string
		want      string
		wantErr   bool
	}{
		{
			name:      "Start at Root",
			startPath: appDir,
			want:      want,
		},
		{
			name:      "Start in Subdir",
			startPath: subDir,
			want:      want,
		},
		{
			name:      "Start Nested Deeply",
			startPath: nestedDir,
			want:      want,
		},
		{
			name:      "No Settings Found",
			startPath: emptyDir,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindSettings(tt.startPath)
			if (err != nil) != tt.wantErr {
				t.Errorf("FindSettings() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != "" && filepath.Clean(got) != filepath.Clean(tt.want) {
				t.Errorf("FindSettings() = %v, want %v", got, tt.want)
			}
		})
	}
}
