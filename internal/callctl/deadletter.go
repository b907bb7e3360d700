package callctl

import (
	"context"
	"fmt"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/callrelay/callrelay/internal/callingester/deadletter"
	"github.com/callrelay/callrelay/internal/common/util"
)

func (a *App) deadLetters() (*deadletter.RedisStore, func(), error) {
	if a.Params.DeadLetterStream == "" {
		return nil, nil, errors.New("no dead-letter stream given")
	}
	client := redis.NewUniversalClient(&a.Params.Redis)
	return deadletter.NewRedisStore(client, a.Params.DeadLetterStream, 0), func() {
		util.CloseResource("redis", client)
	}, nil
}

// DeadLetterList prints up to count of the oldest dead-lettered records.
func (a *App) DeadLetterList(count int64) error {
	store, closeStore, err := a.deadLetters()
	if err != nil {
		return err
	}
	defer closeStore()

	total, err := store.Len()
	if err != nil {
		return err
	}
	entries, err := store.List(count)
	if err != nil {
		return err
	}
	w := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	w.Writef("ID\tFAILED AT\tSQLSTATE\tERROR\n")
	for _, e := range entries {
		w.Writef("%s\t%s\t%s\t%s\n", e.Id, e.FailedAt.Format("2006-01-02 15:04:05"), e.SqlState, e.Error)
	}
	fmt.Fprint(a.Out, w.String())
	fmt.Fprintf(a.Out, "%d of %d dead-lettered records shown\n", len(entries), total)
	return nil
}

// DeadLetterReplay posts up to count dead-lettered records back to the ingress, oldest first, and
// removes each one the ingress accepts. It stops at the first rejection so that order is kept.
func (a *App) DeadLetterReplay(ctx context.Context, count int64) (int, error) {
	store, closeStore, err := a.deadLetters()
	if err != nil {
		return 0, err
	}
	defer closeStore()

	entries, err := store.List(count)
	if err != nil {
		return 0, err
	}
	replayed := 0
	for _, e := range entries {
		if err := a.post(ctx, e.Payload); err != nil {
			log.WithField("id", e.Id).WithError(err).Error("Replay rejected by ingress")
			fmt.Fprintf(a.Out, "Replayed %d of %d records\n", replayed, len(entries))
			return replayed, err
		}
		if err := store.Delete(e.Id); err != nil {
			return replayed, err
		}
		replayed++
	}
	fmt.Fprintf(a.Out, "Replayed %d of %d records\n", replayed, len(entries))
	return replayed, nil
}
