// roomtoken prints a join token for an app id and channel.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/VideoRoom/internal/auth"
	"github.com/dkeye/VideoRoom/internal/domain"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	secret := pflag.String("secret", os.Getenv("ROOMSERVER_TOKEN_SECRET"), "token signing secret")
	appID := pflag.String("app-id", "", "application id")
	channel := pflag.String("channel", "Test-Channel", "channel the token admits to")
	ttl := pflag.Duration("ttl", 24*time.Hour, "token lifetime")
	pflag.Parse()

	if *secret == "" || *appID == "" {
		log.Fatal().Str("module", "roomtoken").Msg("--secret and --app-id are required")
	}

	token, err := auth.Issue([]byte(*secret), *appID, domain.RoomName(*channel), *ttl)
	if err != nil {
		log.Fatal().Err(err).Str("module", "roomtoken").Msg("issue token")
	}
	fmt.Println(token)
}
