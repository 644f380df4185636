package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"blogpilot/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root, nil)

	f, err := r.Resolve(filepath.Join(root, "News", "AI_Policy_12", "brief.md"))
	require.NoError(t, err)
	assert.Equal(t, "News", f.Major)
	assert.Equal(t, "AI_Policy", f.Sub, "greedy name keeps inner underscores")
	assert.Equal(t, 12, f.CategoryID)
	assert.Equal(t, "#News_AI_Policy", f.Hashtag)
	assert.Equal(t, "brief.md", f.Name())
	assert.False(t, f.DiscoveredAt.IsZero())
}

func TestResolveRejects(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root, nil)

	cases := map[string]string{
		"unknown major":   filepath.Join(root, "Blogs", "Tech_3", "a.md"),
		"no id suffix":    filepath.Join(root, "News", "Tech", "a.md"),
		"zero id":         filepath.Join(root, "News", "Tech_0", "a.md"),
		"root file":       filepath.Join(root, "a.md"),
		"too deep":        filepath.Join(root, "News", "Tech_3", "nested", "a.md"),
		"outside of root": filepath.Join(filepath.Dir(root), "News", "Tech_3", "a.md"),
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(path)
			require.Error(t, err)
			assert.True(t, core.IsKind(err, core.KindInvalidPath))
		})
	}
}

func TestResolveCustomAllowlist(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root, []string{"Paper"})

	_, err := r.Resolve(filepath.Join(root, "Paper", "ML_7", "p.pdf"))
	assert.NoError(t, err)
	_, err = r.Resolve(filepath.Join(root, "News", "ML_7", "p.pdf"))
	assert.Error(t, err)
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "News", "Tech_3", "b.md"))
	touch(t, filepath.Join(root, "News", "Tech_3", "a.pdf"))
	touch(t, filepath.Join(root, "News", "Tech_3", ".hidden.md"))
	touch(t, filepath.Join(root, "News", "Tech_3", "image.png"))
	touch(t, filepath.Join(root, "Blogs", "Tech_3", "c.txt"))
	touch(t, filepath.Join(root, ".trash", "News", "x.md"))

	files, skipped, err := NewResolver(root, nil).Scan()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.pdf", files[0].Name())
	assert.Equal(t, "b.md", files[1].Name())
	assert.Len(t, skipped, 1)
}

func TestCategoriesAndEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	mapPath := filepath.Join(dir, "categories.json")
	require.NoError(t, os.WriteFile(mapPath, []byte(`{
		"_comment": "ids come from the blog",
		"News": [{"name": "Tech", "id": 3}, {"name": "Policy", "id": 4}],
		"Books": [{"name": "Essays", "id": 9}]
	}`), 0o644))

	cats, err := LoadCategories(mapPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"Books", "News"}, cats.Majors())

	root := filepath.Join(dir, "input")
	n, err := EnsureCategoryDirs(root, cats)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.DirExists(t, filepath.Join(root, "News", "Policy_4"))

	n, err = EnsureCategoryDirs(root, cats)
	require.NoError(t, err)
	assert.Zero(t, n)
}
