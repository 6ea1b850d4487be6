package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/session"
)

type clientFlags struct {
	domain            string
	serverURL         string
	stun              []string
	turn              string
	turnUser          string
	turnPass          string
	relay             bool
	video             string
	audio             string
	record            string
	reconnectAttempts int
	reconnectDelay    time.Duration
	discover          bool
	plain             bool
}

var flags clientFlags

func addClientFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&flags.domain, "domain", "", "Signaling server domain")
	f.StringVar(&flags.serverURL, "server", "", "Signaling WebSocket URL (overrides --domain)")
	f.StringSliceVarP(&flags.stun, "stun", "s", nil, "STUN servers")
	f.StringVarP(&flags.turn, "turn", "t", "", "TURN server")
	f.StringVar(&flags.turnUser, "turn-user", "", "TURN username")
	f.StringVar(&flags.turnPass, "turn-pass", "", "TURN password")
	f.BoolVarP(&flags.relay, "relay", "r", false, "Force relay mode")
	f.StringVar(&flags.video, "video", "", "IVF file to send as the camera")
	f.StringVar(&flags.audio, "audio", "", "Ogg Opus file to send as the microphone")
	f.StringVar(&flags.record, "record", "", "Directory to record the peer's media into")
	f.IntVar(&flags.reconnectAttempts, "reconnect-attempts", 0, "Signaling connection attempts before giving up")
	f.DurationVar(&flags.reconnectDelay, "reconnect-delay", 0, "Delay between signaling connection attempts")
	f.BoolVar(&flags.discover, "discover", false, "Find a signaling server on the local network")
	f.BoolVar(&flags.plain, "plain", false, "Print log lines instead of the live call view")
}

func (f clientFlags) options() config.Options {
	return config.Options{
		Domain:            f.domain,
		ServerURL:         f.serverURL,
		STUNServers:       f.stun,
		TURNServer:        f.turn,
		TURNUser:          f.turnUser,
		TURNPass:          f.turnPass,
		ForceRelay:        f.relay,
		VideoFile:         f.video,
		AudioFile:         f.audio,
		RecordDir:         f.record,
		ReconnectAttempts: f.reconnectAttempts,
		ReconnectDelay:    f.reconnectDelay,
		Discover:          f.discover,
	}
}

// loadConfig resolves client configuration from flags, env and defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flags.options())
	if err != nil {
		return nil, session.NewError("load config", err)
	}
	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, session.WrapError("load config", errRelayWithoutTURN, "pass --turn or set TURN_SERVER")
	}
	return cfg, nil
}
