package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/wfunc/griffonary/cache"
	"github.com/wfunc/griffonary/logger"
	"github.com/wfunc/griffonary/models"
	"github.com/wfunc/griffonary/room"
	"github.com/wfunc/griffonary/services"
)

const callTimeout = 3 * time.Second

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer listens on addr and registers svc under the name "GameService".
func NewServer(addr string, svc *GameService) (*Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("GameService", svc); err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      srv,
	}, nil
}

// Addr is the bound listener address.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// GameService exposes read-only inspection of rooms and player history.
// Methods follow the net/rpc signature.
type GameService struct {
	rooms *room.Manager
	stats *services.StatsService
}

func NewGameService(rooms *room.Manager, stats *services.StatsService) *GameService {
	return &GameService{rooms: rooms, stats: stats}
}

type ListRoomsArgs struct{}

type ListRoomsReply struct {
	RoomIDs []string
}

func (gs *GameService) ListRooms(args *ListRoomsArgs, reply *ListRoomsReply) error {
	reply.RoomIDs = gs.rooms.IDs()
	return nil
}

type GetRoomArgs struct {
	RoomID string
}

type GetRoomReply struct {
	Snapshot room.Snapshot
}

func (gs *GameService) GetRoom(args *GetRoomArgs, reply *GetRoomReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	snap, err := gs.rooms.Snapshot(ctx, args.RoomID)
	if err != nil {
		return err
	}
	reply.Snapshot = snap
	return nil
}

type GetPlayerStatsArgs struct {
	PlayerID string
}

type GetPlayerStatsReply struct {
	Stats models.PlayerStats
}

func (gs *GameService) GetPlayerStats(args *GetPlayerStatsArgs, reply *GetPlayerStatsReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	stats, err := gs.stats.GetPlayerStats(ctx, args.PlayerID)
	if err != nil {
		return err
	}
	reply.Stats = stats
	return nil
}

type GetLeaderboardArgs struct {
	RoomID string
	Limit  int
}

type GetLeaderboardReply struct {
	Entries []cache.LeaderboardEntry
}

func (gs *GameService) GetLeaderboard(args *GetLeaderboardArgs, reply *GetLeaderboardReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	entries, err := gs.stats.RoomLeaderboard(ctx, args.RoomID, args.Limit)
	if err != nil {
		return err
	}
	reply.Entries = entries
	return nil
}
