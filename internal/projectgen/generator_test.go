package projectgen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp-backoffice/backoffice-server/internal/config"
	"github.com/erp-backoffice/backoffice-server/internal/models"
)

func setupTemplate(t *testing.T) (string, string) {
	t.Helper()

	templateDir := t.TempDir()
	outputDir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(templateDir, "src"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(templateDir, "index.html"),
		[]byte("<title>{{TENANT_NAME}}</title>"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(templateDir, "src", "config.js"),
		[]byte("export const api = '{{API_URL}}/{{TENANT_CODE}}';"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(templateDir, "logo.png"),
		[]byte{0x89, 0x50, 0x4e, 0x47}, 0o644))

	return templateDir, outputDir
}

func TestGenerateSubstitutesPlaceholders(t *testing.T) {
	templateDir, outputDir := setupTemplate(t)

	g := NewGenerator(config.ProjectGenConfig{
		TemplateDir: templateDir,
		OutputDir:   outputDir,
		APIBaseURL:  "https://api.example.com",
	})

	tenant := &models.Tenant{ID: uuid.New(), Code: "acme-co", Name: "Acme Co"}

	path, err := g.Generate(tenant)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outputDir, "acme-co"), path)

	html, err := os.ReadFile(filepath.Join(path, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<title>Acme Co</title>", string(html))

	js, err := os.ReadFile(filepath.Join(path, "src", "config.js"))
	require.NoError(t, err)
	assert.Equal(t, "export const api = 'https://api.example.com/acme-co';", string(js))

	// Binary files are copied verbatim
	png, err := os.ReadFile(filepath.Join(path, "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, png)
}

func TestGenerateRejectsExistingFolder(t *testing.T) {
	templateDir, outputDir := setupTemplate(t)

	g := NewGenerator(config.ProjectGenConfig{
		TemplateDir: templateDir,
		OutputDir:   outputDir,
	})

	tenant := &models.Tenant{ID: uuid.New(), Code: "acme-co", Name: "Acme Co"}

	_, err := g.Generate(tenant)
	require.NoError(t, err)

	_, err = g.Generate(tenant)
	assert.Error(t, err)
}

func TestGenerateUnconfigured(t *testing.T) {
	g := NewGenerator(config.ProjectGenConfig{})

	_, err := g.Generate(&models.Tenant{Code: "acme"})
	assert.Error(t, err)
}
