package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_BootstrapsLazilyAndCloses(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	mocks := &Services{
		Search:    searchService,
		Documents: documentService,
		Ingestion: ingestionService,
		Query:     queryService,
		Sessions:  sessionService,
	}
	queryService = nil

	var built, closed int
	bootstrap = func(context.Context) (*Services, error) {
		built++
		s := *mocks
		s.Close = func() error {
			closed++
			return nil
		}
		return &s, nil
	}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"session", "new"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, Execute(context.Background()))
	assert.Equal(t, 1, built)
	assert.Equal(t, 1, closed)
	assert.Equal(t, "sess-new\n", buf.String())
	assert.Nil(t, closeServices)
}

func TestExecute_BootstrapError(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	queryService = nil
	bootstrap = func(context.Context) (*Services, error) {
		return nil, errors.New("open metadata.db: permission denied")
	}

	_, err := execute("search", "riba")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestExecute_JoinsCloseError(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	closeServices = func() error { return errors.New("flush failed") }

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	err := Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush failed")
}
