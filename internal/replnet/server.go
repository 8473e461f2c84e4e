package replnet

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/redcon"

	commonerrors "github.com/kvshard/replicore/pkg/errors"
)

// SyncRequest is what a connecting slave asks for: which of the master's
// stores it wants to replicate, and where the slave itself listens (so the
// master can record slaveListenIp/Port in its push status, spec.md §3).
type SyncRequest struct {
	StoreID       int
	SlaveListenIP string
	SlaveListenPort uint32
}

// RegisterFunc is invoked when a slave issues PSYNC; it returns the
// clientId to hand back, or an error to reject the connection.
type RegisterFunc func(req SyncRequest, conn redcon.Conn) (clientID uint64, err error)

// AttachFunc is invoked after a successful PSYNC registration, once the
// FULLRESYNC reply has been written; it dials the slave back at its
// advertised listen address and wires a push client onto clientID so the
// master has somewhere to write incremental binlog data. Runs off the
// command-handling goroutine since the dial may block up to a connect
// timeout.
type AttachFunc func(storeID int, clientID uint64, slaveListenIP string, slaveListenPort uint32) error

// DeregisterFunc is invoked when a slave connection closes.
type DeregisterFunc func(clientID uint64)

// Server is the master-side listener accepting slave PSYNC connections,
// grounded on internal/protocol/server.go's use of redcon.NewServer.
type Server struct {
	addr       string
	srv        *redcon.Server
	register   RegisterFunc
	attach     AttachFunc
	deregister DeregisterFunc

	mu      sync.Mutex
	clients map[redcon.Conn]uint64
}

// NewServer builds a Server; register/attach/deregister wire it to the
// replication manager's push-status map.
func NewServer(addr string, register RegisterFunc, attach AttachFunc, deregister DeregisterFunc) *Server {
	return &Server{
		addr:       addr,
		register:   register,
		attach:     attach,
		deregister: deregister,
		clients:    make(map[redcon.Conn]uint64),
	}
}

// Start begins listening and serving on its own goroutine (ListenAndServe
// blocks internally). It does not wait for the bind: it returns an error
// only if ListenAndServe has already failed by the time it checks, and nil
// otherwise.
func (s *Server) Start() error {
	s.srv = redcon.NewServer(s.addr, s.handleCommand, s.handleAccept, s.handleClose)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (s *Server) handleAccept(conn redcon.Conn) bool {
	return true
}

func (s *Server) handleClose(conn redcon.Conn, err error) {
	s.mu.Lock()
	clientID, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	if ok && s.deregister != nil {
		s.deregister(clientID)
	}
}

func (s *Server) handleCommand(conn redcon.Conn, cmd redcon.Command) {
	name := strings.ToUpper(string(cmd.Args[0]))
	switch name {
	case "PSYNC":
		if len(cmd.Args) < 4 {
			conn.WriteError("ERR " + commonerrors.ErrInvalidArgs.Error())
			return
		}
		storeID, err := strconv.Atoi(string(cmd.Args[1]))
		if err != nil || storeID < 0 {
			conn.WriteError("ERR " + commonerrors.ErrInvalidStoreID.Error())
			return
		}
		listenIP := string(cmd.Args[2])
		listenPort, err := strconv.ParseUint(string(cmd.Args[3]), 10, 32)
		if err != nil {
			conn.WriteError("ERR invalid listen port")
			return
		}

		req := SyncRequest{StoreID: storeID, SlaveListenIP: listenIP, SlaveListenPort: uint32(listenPort)}
		clientID, err := s.register(req, conn)
		if err != nil {
			conn.WriteError(fmt.Sprintf("ERR %s", err.Error()))
			return
		}

		s.mu.Lock()
		s.clients[conn] = clientID
		s.mu.Unlock()

		conn.WriteString(fmt.Sprintf("FULLRESYNC %d", clientID))

		if s.attach != nil {
			go func() {
				if aerr := s.attach(storeID, clientID, listenIP, uint32(listenPort)); aerr != nil {
					log.Printf("replnet: attach push client %d for store %d: %v", clientID, storeID, aerr)
				}
			}()
		}
	default:
		conn.WriteError("ERR unknown command '" + name + "'")
	}
}

// Close stops accepting connections and closes all client sockets.
func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}
