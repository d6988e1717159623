package server

import "sync/atomic"

// sessionState is the explicit control-channel state named in spec.md §4.F.
// The teacher dispatches by a flat map with a per-handler isLoggedIn check;
// this adds the outer state enum spec.md's universal legality property is
// checked against, while the per-handler checks stay in place as the inner,
// defense-in-depth layer.
type sessionState int32

const (
	stateAwaitProxy sessionState = iota
	stateGreet
	stateAwaitUser
	stateTLSHandshake
	stateAwaitPass
	stateAuthenticated
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitProxy:
		return "await-proxy"
	case stateGreet:
		return "greet"
	case stateAwaitUser:
		return "await-user"
	case stateTLSHandshake:
		return "tls-handshake"
	case stateAwaitPass:
		return "await-pass"
	case stateAuthenticated:
		return "authenticated"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// state returns the session's current state.
func (s *session) state() sessionState {
	return sessionState(atomic.LoadInt32(&s.stateVal))
}

// setState transitions the session to a new state.
func (s *session) setState(next sessionState) {
	atomic.StoreInt32(&s.stateVal, int32(next))
}

// preAuthCommands are legal before USER/PASS complete regardless of state:
// the control channel must always accept these so a client can log in,
// secure the channel, or disconnect. Everything else — including SYST,
// STAT, NOOP, and HOST — requires a completed login first.
var preAuthCommands = map[string]bool{
	"USER": true, "PASS": true, "QUIT": true,
	"AUTH": true, "FEAT": true, "HELP": true,
	"OPTS": true, "PBSZ": true, "PROT": true,
}

// checkLegality enforces spec.md §8's universal property: for every state S
// and every command C not in the legal set of S, reply 530 pre-auth / 503
// post-auth (a command requiring a data setup that hasn't happened is left
// to the per-handler check, since that's a narrower, per-command legality
// rule than the coarse pre/post-auth split this table models).
func checkLegality(st sessionState, cmd string) (code int, text string, ok bool) {
	switch st {
	case stateClosed:
		return 421, "Service not available, closing control connection.", false
	case stateAuthenticated:
		return 0, "", true
	default:
		if preAuthCommands[cmd] {
			return 0, "", true
		}
		if _, known := commandHandlers[cmd]; !known && cmd != "NOOP" {
			// Unknown commands still get the standard 502, not 530 — only
			// commands that require a login should be rejected here. NOOP
			// is answered inline by handleCommand rather than through
			// commandHandlers, so it is excluded from this pass-through.
			return 0, "", true
		}
		return 530, "Please login with USER and PASS.", false
	}
}
