package docs

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundledDocs(t *testing.T) {
	svc := Bundled()

	list, err := svc.ListDocs()
	require.NoError(t, err)
	assert.Equal(t, []string{"api.adoc", "guide.adoc"}, list)

	html, err := svc.GetDoc(context.Background(), "guide.adoc")
	require.NoError(t, err)
	assert.Contains(t, html, "Getting started")
	assert.Contains(t, html, "<h2")
}

func TestGetDocCachesAndRejectsPaths(t *testing.T) {
	fsys := fstest.MapFS{
		"a.adoc":    {Data: []byte("== Hello\n\nworld\n")},
		"notes.txt": {Data: []byte("skip")},
	}
	svc := NewService(fsys)

	list, err := svc.ListDocs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.adoc"}, list)

	first, err := svc.GetDoc(context.Background(), "a.adoc")
	require.NoError(t, err)
	assert.Contains(t, first, "world")

	delete(fsys, "a.adoc")
	second, err := svc.GetDoc(context.Background(), "a.adoc")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = svc.GetDoc(context.Background(), "../secret.adoc")
	assert.Error(t, err)
	_, err = svc.GetDoc(context.Background(), "missing.adoc")
	assert.Error(t, err)
}
