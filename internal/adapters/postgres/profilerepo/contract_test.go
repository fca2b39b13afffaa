package profilerepo

import (
	"testing"

	"github.com/shomaj/neighborhood-client/internal/adapters/contracttest"
	"github.com/shomaj/neighborhood-client/internal/adapters/postgres/testutil"
	profilerepoport "github.com/shomaj/neighborhood-client/internal/ports/out/profilerepo"
)

func TestContract_PostgresProfileRepo(t *testing.T) {
	pool := testutil.OpenMigratedPool(t)

	contracttest.RunProfileRepo(t, func(t *testing.T) (profilerepoport.Repository, contracttest.CleanupFunc) {
		t.Helper()
		return NewRepo(pool), nil
	})
}
