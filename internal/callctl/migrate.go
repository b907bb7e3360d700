package callctl

import (
	"context"
	"fmt"

	"github.com/callrelay/callrelay/internal/callingester/store"
	"github.com/callrelay/callrelay/internal/common/database"
)

// Migrate brings the call_records schema up to date.
func (a *App) Migrate(ctx context.Context) error {
	db, err := database.OpenPgxPool(ctx, a.Params.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	migrations, err := store.Migrations()
	if err != nil {
		return err
	}
	if err := database.UpdateDatabase(ctx, db, migrations); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Schema up to date (%d migrations)\n", len(migrations))
	return nil
}
