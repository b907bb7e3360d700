package callctl

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis"

	"github.com/callrelay/callrelay/internal/common/database"
)

// App holds everything the callctl commands share.
type App struct {
	// Parameters passed to the CLI by the user.
	Params *Params
	// Out is where command output is written. Tests replace it to make assertions on the output.
	Out io.Writer
	// HttpClient talks to the ingress.
	HttpClient *http.Client
}

// Params holds every user-customizable parameter, so that flags stay distinct across commands.
type Params struct {
	Postgres   database.PostgresConfig
	Redis      redis.UniversalOptions
	IngressUrl string
	// Dead-letter stream written by the ingester
	DeadLetterStream string
}

func New() *App {
	return &App{
		Params:     &Params{},
		Out:        os.Stdout,
		HttpClient: &http.Client{Timeout: 10 * time.Second},
	}
}
