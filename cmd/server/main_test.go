package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NoraXie/echoid/internal/models"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	for _, sub := range []string{"serve", "templates", "tenant"} {
		assert.Contains(t, buf.String(), sub, "help missing %q command", sub)
	}
}

func TestTenantTopup_RequiresTwoArgs(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"tenant", "topup", "only-one"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg(s)")
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "10", want: 10},
		{in: "0.05", want: 0.05},
		{in: "0", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "ten", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseTemplates(t *testing.T) {
	input := `# greetings
Tu código {app_name} es {otp}. {link}

  Código {otp} para {app_name}: {link}  
`
	got, err := parseTemplates(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Tu código {app_name} es {otp}. {link}",
		"Código {otp} para {app_name}: {link}",
	}, got)
}

func TestCollectTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.txt")
	require.NoError(t, os.WriteFile(path, []byte("Tu clave es {otp} {link}\n"), 0o600))

	got, err := collectTemplates(path, []string{"{otp} es tu código"})
	require.NoError(t, err)
	assert.Equal(t, []string{"{otp} es tu código", "Tu clave es {otp} {link}"}, got)

	_, err = collectTemplates("", nil)
	assert.EqualError(t, err, "no templates given")

	_, err = collectTemplates("", []string{"sin código"})
	assert.ErrorContains(t, err, "no {otp} placeholder")
}

func TestNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	txs := []models.Transaction{
		{Token: "AB2345", CreatedAt: base},
		{Token: "CD6789", CreatedAt: base.Add(2 * time.Minute)},
		{Token: "EF2345", CreatedAt: base.Add(time.Minute)},
	}

	got := newestFirst(txs, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "CD6789", got[0].Token)
	assert.Equal(t, "EF2345", got[1].Token)

	assert.Len(t, newestFirst(nil, 5), 0)
}
