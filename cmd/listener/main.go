// listener — консольный клиент совместного прослушивания: подключается к
// хранилищу комнат, создаёт комнату или входит по коду/ссылке и держит
// симулированный плеер синхронным с комнатой.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/directory"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/domain"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/playback"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/player"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/profile"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/roomsync"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/security"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/session"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/remote"
	grpcx "github.com/Dakshin211/soulsync-vibes-connect/internal/transport/grpc"
	"github.com/Dakshin211/soulsync-vibes-connect/pkg/logger"
)

type flags struct {
	storeURL string
	grpcAddr string
	token    string
	keyPath  string
	issuer   string
	audience string
	userID   string
	name     string

	create string
	code   string
	link   string
	song   string
	list   bool

	status time.Duration
	debug  bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.storeURL, "store", "ws://localhost:8080/ws/store", "store websocket url")
	flag.StringVar(&f.grpcAddr, "grpc", "localhost:9090", "directory gRPC address (for -list)")
	flag.StringVar(&f.token, "token", "dev", "access token")
	flag.StringVar(&f.keyPath, "key", "", "RSA private key (PEM): sign an access token instead of -token")
	flag.StringVar(&f.issuer, "issuer", "soulsync-auth", "token issuer for -key")
	flag.StringVar(&f.audience, "audience", "soulsync", "token audience for -key")
	flag.StringVar(&f.userID, "user", "", "user id (required)")
	flag.StringVar(&f.name, "name", "", "display name")
	flag.StringVar(&f.create, "create", "", "create a room with this name")
	flag.StringVar(&f.code, "code", "", "join a room by 6-char code")
	flag.StringVar(&f.link, "link", "", "join a room by join link")
	flag.StringVar(&f.song, "song", "", "play after entering: id|title|artist|seconds")
	flag.BoolVar(&f.list, "list", false, "list rooms via gRPC and exit")
	flag.DurationVar(&f.status, "status", 5*time.Second, "status print interval")
	flag.BoolVar(&f.debug, "debug", false, "debug logging")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()
	if f.userID == "" {
		log.Fatal("-user is required")
	}
	logger.Init(logger.Config{Service: "listener", Env: logger.EnvDev, Debug: f.debug})
	if f.keyPath != "" {
		tok, err := signToken(f)
		if err != nil {
			log.Fatalf("sign token: %v", err)
		}
		f.token = tok
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.list {
		if err := listRooms(ctx, f); err != nil {
			log.Fatalf("list rooms: %v", err)
		}
		return
	}

	if err := run(ctx, f); err != nil {
		slog.Error("listener stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	client, err := remote.Dial(ctx, f.storeURL,
		remote.WithToken(f.token),
		remote.WithUserID(f.userID),
		remote.WithLogger(logger.Component("store")))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	profiles := profile.NewStoreLookup(client)
	if f.name != "" {
		if err := profiles.Publish(ctx, profile.Profile{UserID: f.userID, DisplayName: f.name}); err != nil {
			slog.Warn("publish profile", "err", err)
		}
	}

	var (
		song    domain.Song
		simOpts []player.SimOption
	)
	if f.song != "" {
		if song, err = parseSong(f.song); err != nil {
			return err
		}
		if song.Duration > 0 {
			simOpts = append(simOpts, player.WithTrack(song.ID, song.Duration))
		}
	}
	engine := player.NewSim(simOpts...)
	pb := playback.New(engine, playback.WithLogger(logger.Component("playback")))
	dir := directory.New(client, profiles, directory.WithLogger(logger.Component("directory")))
	me := domain.Member{ID: f.userID, Name: f.name}

	closed := make(chan string, 1)
	sess := session.New(client, dir, pb, me, roomsync.DefaultConfig(),
		session.WithLogger(logger.Component("session")),
		session.OnRoomClosed(func(roomID string, _ error) {
			select {
			case closed <- roomID:
			default:
			}
		}))

	var room *domain.Room
	switch {
	case f.create != "":
		room, err = sess.Create(ctx, f.create)
	case f.code != "":
		room, err = sess.Join(ctx, f.code)
	case f.link != "":
		room, err = sess.JoinByLink(ctx, f.link)
	default:
		return fmt.Errorf("one of -create, -code or -link is required")
	}
	if err != nil {
		return err
	}
	slog.Info("in room", "room_id", room.ID, "name", room.Name, "code", room.Code, "host", room.HostName)

	if song.ID != "" {
		pb.Play(song)
	}

	go pb.Run(ctx, 250*time.Millisecond)

	ticker := time.NewTicker(f.status)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			res, err := sess.Leave(leaveCtx)
			if err != nil {
				slog.Warn("leave", "err", err)
				return nil
			}
			slog.Info("left room", "outcome", res.Outcome, "new_host", res.NewHostID)
			return nil
		case id := <-closed:
			slog.Info("room closed", "room_id", id)
			return nil
		case <-ticker.C:
			snap := pb.Snapshot()
			sy := sess.Synchronizer()
			attrs := []any{"state", snap.State.String(), "song", snap.SongID(), "pos", fmt.Sprintf("%.1f", snap.Position)}
			if sy != nil {
				attrs = append(attrs, "phase", sy.Phase().String(), "writes", sy.Writes())
			}
			slog.Info("status", attrs...)
		}
	}
}

// signToken выпускает короткоживущий токен для -user из ключа -key.
func signToken(f flags) (string, error) {
	key, err := security.LoadRSAPrivateKey(f.keyPath)
	if err != nil {
		return "", err
	}
	return security.NewSigner(key, security.TokenOptions{
		Issuer:   f.issuer,
		Audience: f.audience,
		TTL:      12 * time.Hour,
	}).Issue(f.userID, f.name)
}

// parseSong: id|title|artist|seconds; хвостовые поля необязательны.
func parseSong(s string) (domain.Song, error) {
	parts := strings.Split(s, "|")
	song := domain.Song{ID: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		song.Title = parts[1]
	}
	if len(parts) > 2 {
		song.Artist = parts[2]
	}
	if len(parts) > 3 {
		secs, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return domain.Song{}, fmt.Errorf("song duration: %w", err)
		}
		song.Duration = secs
	}
	if song.Title == "" {
		song.Title = song.ID
	}
	return song, song.Validate()
}

func listRooms(ctx context.Context, f flags) error {
	cc, err := grpc.NewClient(f.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer func() { _ = cc.Close() }()

	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+f.token, "x-user-id", f.userID)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := grpcx.NewDirectoryClient(cc).ListRooms(ctx, &grpcx.ListRoomsRequest{Limit: 50})
	if err != nil {
		return err
	}
	for _, r := range resp.Items {
		fmt.Printf("%s\t%s\t%s\t%d members\n", r.Code, r.Id, r.Name, len(r.Members))
	}
	return nil
}
