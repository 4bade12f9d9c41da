package karasu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleSrcinfo = `
pkgbase = yay
	pkgver = 12.3.5
	pkgrel = 1
	makedepends = go
	depends = pacman>5
	depends = git
	depends_x86_64 = glibc
	checkdepends = python-pytest
	provides = yay-bin
	conflicts = yay-git

pkgname = yay
`

func TestParseSrcinfo(t *testing.T) {
	rec, err := ParseSrcinfo("yay", strings.NewReader(sampleSrcinfo))
	require.NoError(t, err)

	require.Equal(t, "yay", rec.Base)
	require.Equal(t, "12.3.5-1", rec.Version)
	require.Equal(t, []string{"pacman>5", "git", "glibc"}, rec.Depends)
	require.Equal(t, []string{"go"}, rec.MakeDepends)
	require.Equal(t, []string{"python-pytest"}, rec.CheckDepends)
	require.Equal(t, []string{"yay-bin"}, rec.Provides)
	require.Equal(t, []string{"yay-git"}, rec.Conflicts)
}

func TestAllDependsStripsConstraintsAndDedupes(t *testing.T) {
	rec := &Recipe{
		Depends:      []string{"pacman>=6.0", "git"},
		MakeDepends:  []string{"go", "git"},
		CheckDepends: []string{"python-pytest"},
	}
	require.Equal(t, []string{"pacman", "git", "go", "python-pytest"}, rec.AllDepends())
}

func TestStripVersionConstraint(t *testing.T) {
	cases := map[string]string{
		"foo>=1.2":  "foo",
		"foo<2":     "foo",
		"foo=1.0-1": "foo",
		"foo":       "foo",
	}
	for in, want := range cases {
		require.Equal(t, want, stripVersionConstraint(in))
	}
}

func TestParseSrcinfoRejectsGarbage(t *testing.T) {
	_, err := ParseSrcinfo("broken", strings.NewReader("pkgbase = x\nnot a key value line\n"))
	require.Error(t, err)
	require.IsType(t, &ParseError{}, err)

	_, err = ParseSrcinfo("", strings.NewReader("pkgver = 1\n"))
	require.Error(t, err)
}
