// Command sessiond runs the Session Server of §2A: the client-facing TCP
// listener, the inter-process S2S listener, and (optionally) a spawned
// Engine child process connected by a shutdown pipe, per §4.8's process
// model.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"net"
	"os"
	"os/exec"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"twclone/internal/applog"
	"twclone/internal/envelope"
	"twclone/internal/keyring"
	"twclone/internal/peers"
	"twclone/internal/pipeline"
	"twclone/internal/repo"
	"twclone/internal/s2sdispatch"
	"twclone/internal/transport"
	"twclone/internal/universe"
)

func main() {
	var dbPath = flag.String("db", "twclone.db", "path to the sqlite3 database")
	var clientAddr = flag.String("listen", ":2001", "client TCP listen address")
	var s2sAddr = flag.String("s2s-listen", "127.0.0.1:4321", "S2S TCP listen address")
	var engineBin = flag.String("engine-bin", "", "path to the engine binary; empty disables auto-spawn")
	var universeSeed = flag.Int64("universe-seed", 1, "seed for first-run universe generation")
	var numSectors = flag.Int("num-sectors", 1000, "sector count for first-run universe generation")
	flag.Parse()

	applog.Default.Info("sessiond: starting")

	var store, err = repo.Open(*dbPath)
	if err != nil {
		log.WithError(err).Error("sessiond: failed to open database")
		os.Exit(2)
	}
	defer store.Close()

	if err := bootstrapUniverse(store, *universeSeed, *numSectors); err != nil {
		log.WithError(err).Error("sessiond: universe bootstrap failed")
		os.Exit(2)
	}

	var kr = keyring.New()
	if err := kr.InstallDefaultFromDB(keyring.RepoDB{Repo: store}); err != nil {
		log.WithError(err).Error("sessiond: keyring install failed")
		os.Exit(2)
	}
	if err := kr.InstallFromEnv(); err != nil {
		log.WithError(err).Error("sessiond: keyring env override failed")
		os.Exit(2)
	}

	var peerReg = peers.New(store)
	if err := peerReg.LoadAll(); err != nil {
		log.WithError(err).Error("sessiond: peer registry load failed")
		os.Exit(2)
	}

	var reg = pipeline.NewRegistry()
	registerHandlers(reg)

	var schemas = envelope.DefaultRegistry()
	var pl = pipeline.New(reg, schemas, unauthenticatedAuth, "sessiond-1")

	if *engineBin != "" {
		if cmd, shutdownW, err := spawnEngine(*engineBin, *dbPath); err != nil {
			log.WithError(err).Warn("sessiond: engine spawn failed; continuing without it")
		} else {
			defer shutdownW.Close()
			defer cmd.Process.Kill()
		}
	}

	var s2sDispatch = s2sdispatch.New("sessiond-1", pl, commandApplier(store), nil)

	go runS2SListener(*s2sAddr, kr, s2sDispatch)
	runClientListener(*clientAddr, pl)
}

// bootstrapUniverse generates and persists a fresh universe the first time
// sessiond runs against an empty database (§4.7: "invoked at fresh database
// initialisation"). Against an already-seeded database it's a no-op.
func bootstrapUniverse(store *repo.Store, seed int64, numSectors int) error {
	var u, err = universe.Generate(universe.Params{
		Seed: seed, NumSectors: numSectors,
		MinTunnels: 5, MinTunnelLen: 8,
		MaxPorts: numSectors / 10, MaxPlanets: numSectors / 20,
		PortCredits: 1_000_000,
	})
	if err != nil {
		return err
	}

	if err := store.PersistUniverse(u); err != nil {
		if errors.Is(err, repo.ErrAlreadySeeded) {
			log.Info("sessiond: universe already seeded, skipping generation")
			return nil
		}
		return err
	}

	log.WithField("sectors", numSectors).Info("sessiond: universe generated and persisted")
	return nil
}

// commandApplier implements s2sdispatch.CommandApplier for the one cmd_type
// named in §8's worked S2S command-push scenario. A full deployment
// registers one case per cmd_type; this port's core ships the one the spec
// names by name.
func commandApplier(store *repo.Store) s2sdispatch.CommandApplier {
	return func(cmdType string, payload map[string]interface{}) error {
		switch cmdType {
		case "notice.publish":
			var message, _ = payload["message"].(string)
			var _, err = store.InsertSystemNotice(time.Now().Unix(), message)
			return err
		default:
			log.WithField("cmd_type", cmdType).Warn("sessiond: unhandled s2s command push cmd_type")
			return nil
		}
	}
}

// unauthenticatedAuth is a placeholder AuthFunc; a full deployment wires
// session-token lookup here. The core's scope is the pipeline contract,
// not the account system (§1 Non-goals).
func unauthenticatedAuth(ctx *pipeline.Context) (bool, bool) {
	return ctx.Authenticated, ctx.SysOp
}

func registerHandlers(reg *pipeline.Registry) {
	reg.Register("auth.login", func(ctx *pipeline.Context, data map[string]interface{}) (map[string]interface{}, error) {
		ctx.Authenticated = true
		return map[string]interface{}{"token": "session-token"}, nil
	})
	reg.Register("session.ping", func(ctx *pipeline.Context, data map[string]interface{}) (map[string]interface{}, error) {
		return data, nil
	})
}

func spawnEngine(bin, dbPath string) (*exec.Cmd, *os.File, error) {
	var r, w, err = os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	var cmd = exec.Command(bin, "-db", dbPath, "-shutdown-fd", "0")
	cmd.Stdin = r
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	// the caller holds w open for the lifetime of sessiond; closing it
	// signals the child's shutdown
	return cmd, w, nil
}

func runS2SListener(addr string, kr *keyring.Keyring, disp *s2sdispatch.Dispatcher) {
	var l, err = transport.Listen(addr)
	if err != nil {
		log.WithError(err).Error("sessiond: s2s listen failed")
		return
	}
	defer l.Close()

	var counters = &transport.Counters{}
	for {
		var nc, err = l.Accept(5 * time.Second)
		if err != nil {
			continue
		}
		go handleS2SConn(nc, kr, counters, disp)
	}
}

// handleS2SConn reads one inbound S2S command per frame and writes back
// the ack or error envelope disp produces, per §4.3's request/reply shape.
func handleS2SConn(nc net.Conn, kr *keyring.Keyring, counters *transport.Counters, disp *s2sdispatch.Dispatcher) {
	defer nc.Close()
	var conn = transport.New(nc, kr, transport.DefaultFrameCap, counters)

	for {
		var obj, err = conn.Recv(nil, 30*time.Second)
		if err != nil {
			return
		}

		var req, decErr = envelope.FromWire(obj)
		if decErr != nil {
			log.WithError(decErr).Warn("sessiond: malformed s2s envelope")
			continue
		}

		var reply = disp.Handle(req)
		if sendErr := conn.Send(nil, envelope.ToWire(reply), 5*time.Second); sendErr != nil {
			log.WithError(sendErr).Warn("sessiond: s2s reply send failed")
			return
		}
	}
}

func runClientListener(addr string, pl *pipeline.Pipeline) {
	var l, err = net.Listen("tcp", addr)
	if err != nil {
		log.WithError(err).Error("sessiond: client listen failed")
		os.Exit(2)
	}
	defer l.Close()

	var srvCounter int64
	for {
		var nc, err = l.Accept()
		if err != nil {
			continue
		}
		srvCounter++
		go handleClientConn(nc, pl, srvCounter)
	}
}

func handleClientConn(nc net.Conn, pl *pipeline.Pipeline, connID int64) {
	defer nc.Close()

	var reader = bufio.NewReader(nc)
	var ctx = pipeline.NewContext(rate.Limit(60), 60)

	var conn = &pipeline.Conn{Write: func(resp envelope.Response) error {
		var b, err = json.Marshal(resp)
		if err != nil {
			return err
		}
		b = append(b, '\n')
		_, err = nc.Write(b)
		return err
	}}
	pl.Register(conn)
	defer pl.Unregister(conn)

	for {
		var line, err = reader.ReadBytes('\n')
		if err != nil {
			return
		}
		if len(line) > transport.DefaultFrameCap {
			return
		}

		var req envelope.Request
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}

		var resp = pl.Dispatch(ctx, req)
		if resp == nil {
			continue // captured by an in-flight bulk.execute
		}
		conn.Write(*resp)
	}
}
