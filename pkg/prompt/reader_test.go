package prompt_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satyajitghana/sd3-ui/pkg/prompt"
)

func TestReadFile(t *testing.T) {
	t.Run("discards blank lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prompts.txt")
		content := "a cat\n\n   \nan astronaut riding a horse\n\t\nneon city at night\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		prompts, err := prompt.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"a cat", "an astronaut riding a horse", "neon city at night"}, prompts)
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prompts.txt")
		require.NoError(t, os.WriteFile(path, []byte("  a dog  \n"), 0o644))

		prompts, err := prompt.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"a dog"}, prompts)
	})

	t.Run("empty file yields no prompts", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prompts.txt")
		require.NoError(t, os.WriteFile(path, []byte("\n\n"), 0o644))

		prompts, err := prompt.ReadFile(path)
		require.NoError(t, err)
		assert.Len(t, prompts, 0)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := prompt.ReadFile(filepath.Join(t.TempDir(), "nope.txt"))
		assert.Error(t, err)
	})
}
