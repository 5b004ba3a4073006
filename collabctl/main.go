package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"gopkg.in/yaml.v3"

	"docspace.com/docs/collab"
)

const CollabCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Docspace collab control.

Usage:
    collabctl watch --url=<url> --document_id=<document_id>
        [--jwt=<jwt>]
        [--settings=<settings>]
        [--verbose]
    collabctl blocks

Options:
    -h --help                    Show this screen.
    --version                    Show version.
    --url=<url>                  Realtime endpoint url, e.g. wss://realtime.docspace.com
    --document_id=<document_id>  Document to open a session for.
    --jwt=<jwt>                  Your workspace JWT. Prompted without echo when omitted.
    --settings=<settings>        Yaml settings file.
    --verbose                    Debug logging.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollabCtlVersion)
	if err != nil {
		panic(err)
	}

	if verbose, _ := opts.Bool("--verbose"); verbose {
		collab.InitLogging(2)
	} else {
		collab.InitLogging(0)
	}

	if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if blocks_, _ := opts.Bool("blocks"); blocks_ {
		blocks(opts)
	}
}

// yaml overrides for the session settings, in milliseconds
type ctlSettings struct {
	HeartbeatIntervalMillis      int   `yaml:"heartbeat_interval_ms"`
	WarningDelayTableMillis      []int `yaml:"warning_delay_table_ms"`
	WarningEscalateTimeoutMillis int   `yaml:"warning_escalate_timeout_ms"`
	ReconnectTimeoutMillis       int   `yaml:"reconnect_timeout_ms"`
	LivenessTimeoutMillis        int   `yaml:"liveness_timeout_ms"`
	PresenceTimeoutMillis        int   `yaml:"presence_timeout_ms"`
}

func loadCtlSettings(path string) (*collab.SessionControllerSettings, error) {
	settings := collab.DefaultSessionControllerSettings()
	if path == "" {
		return settings, nil
	}

	settingsBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var overrides ctlSettings
	if err := yaml.Unmarshal(settingsBytes, &overrides); err != nil {
		return nil, err
	}

	millis := func(ms int) time.Duration {
		return time.Duration(ms) * time.Millisecond
	}
	if 0 < overrides.HeartbeatIntervalMillis {
		settings.HeartbeatSettings.HeartbeatInterval = millis(overrides.HeartbeatIntervalMillis)
	}
	if 0 < len(overrides.WarningDelayTableMillis) {
		delayTable := []time.Duration{}
		for _, ms := range overrides.WarningDelayTableMillis {
			delayTable = append(delayTable, millis(ms))
		}
		settings.HeartbeatSettings.WarningDelayTable = delayTable
	}
	if 0 < overrides.WarningEscalateTimeoutMillis {
		settings.HeartbeatSettings.WarningEscalateTimeout = millis(overrides.WarningEscalateTimeoutMillis)
	}
	if 0 < overrides.ReconnectTimeoutMillis {
		settings.ChannelSettings.ReconnectTimeout = millis(overrides.ReconnectTimeoutMillis)
	}
	if 0 < overrides.LivenessTimeoutMillis {
		settings.ChannelSettings.LivenessTimeout = millis(overrides.LivenessTimeoutMillis)
	}
	if 0 < overrides.PresenceTimeoutMillis {
		settings.PresenceTimeout = millis(overrides.PresenceTimeoutMillis)
	}
	return settings, nil
}

// a doc handle that just logs remote updates,
// enough to watch a session without a real crdt binding
type localDoc struct {
	documentId collab.Id
}

func (self *localDoc) ApplyRemote(payload []byte) {
	Out.Printf("[doc]%s apply %d bytes", self.documentId, len(payload))
}

func (self *localDoc) Close() {
}

func watch(opts docopt.Opts) {
	url, _ := opts.String("--url")
	documentIdStr, _ := opts.String("--document_id")
	documentId, err := collab.ParseId(documentIdStr)
	if err != nil {
		Err.Fatalf("Bad document_id: %s", err)
	}

	jwt, _ := opts.String("--jwt")
	if jwt == "" {
		fmt.Print("workspace jwt: ")
		jwtBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			Err.Fatalf("Could not read jwt: %s", err)
		}
		jwt = strings.TrimSpace(string(jwtBytes))
	}

	settingsPath, _ := opts.String("--settings")
	settings, err := loadCtlSettings(settingsPath)
	if err != nil {
		Err.Fatalf("Could not load settings: %s", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller := collab.NewSessionController(
		cancelCtx,
		url,
		func(documentId collab.Id) (collab.ReplicatedDoc, error) {
			return &localDoc{documentId: documentId}, nil
		},
		settings,
	)
	defer controller.Shutdown()

	removeTelemetry := controller.Telemetry().AddTelemetryCallback(func(event *collab.TelemetryEvent) {
		eventJson, err := json.Marshal(event)
		if err != nil {
			return
		}
		Out.Printf("%s", eventJson)
	})
	defer removeTelemetry()

	session, err := controller.Open(documentId, &collab.ChannelAuth{
		ByJwt:      jwt,
		AppVersion: CollabCtlVersion,
	})
	if err != nil {
		// the controller stays usable after a failed open,
		// but there is nothing to watch without a channel
		Err.Fatalf("Open failed: %s", err)
	}
	Out.Printf("session open for %s", session.DocumentId)

	controller.AddWarningCallback(func(state collab.WarningState) {
		if state.Latched {
			Out.Printf("[warning %s] %s", state.Level, state.Message)
		} else {
			Out.Printf("[warning cleared]")
		}
	})
	controller.AddPresenceCallback(func(activeUsers []*collab.ActiveUser) {
		names := []string{}
		for _, activeUser := range activeUsers {
			names = append(names, activeUser.UserName)
		}
		Out.Printf("active: %s", strings.Join(names, ", "))
	})

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	<-sigC
	Out.Printf("closing")
}

type blockOp struct {
	Op         string                  `json:"op"`
	Id         *collab.Id              `json:"id,omitempty"`
	Descriptor *collab.BlockDescriptor `json:"descriptor,omitempty"`
}

// applies block ops from stdin json lines to a registry and prints every notification,
// e.g. {"op":"upsert","descriptor":{"id":"...","kind":"textbox"}}
func blocks(opts docopt.Opts) {
	registry := collab.NewBlockRegistry()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var op blockOp
		if err := json.Unmarshal([]byte(line), &op); err != nil {
			Err.Printf("Bad op: %s", err)
			continue
		}

		switch op.Op {
		case "upsert":
			if op.Descriptor == nil {
				Err.Printf("upsert needs a descriptor")
				continue
			}
			registry.Upsert(op.Descriptor)
		case "remove":
			if op.Id == nil {
				Err.Printf("remove needs an id")
				continue
			}
			registry.Remove(*op.Id)
		case "subscribe":
			if op.Id == nil {
				Err.Printf("subscribe needs an id")
				continue
			}
			blockId := *op.Id
			registry.Subscribe(blockId, func(descriptor *collab.BlockDescriptor) {
				if descriptor == nil {
					Out.Printf("[blk]%s absent", blockId)
					return
				}
				descriptorJson, _ := json.Marshal(descriptor)
				Out.Printf("[blk]%s %s", blockId, descriptorJson)
			})
		case "snapshot":
			snapshot := map[string]*collab.BlockDescriptor{}
			for blockId, descriptor := range registry.Snapshot() {
				snapshot[blockId.String()] = descriptor
			}
			snapshotJson, _ := json.Marshal(snapshot)
			Out.Printf("%s", snapshotJson)
		default:
			Err.Printf("Unknown op: %s", op.Op)
		}
	}
}
