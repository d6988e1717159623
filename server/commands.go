package server

// Predefined command groups for WithDisableCommands, so callers can turn
// off a whole category (legacy aliases, active-mode transports, write
// access, SITE) instead of enumerating individual verbs.
//
//	srv, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithDisableCommands(server.WriteCommands...),
//	)

// LegacyCommands are the deprecated RFC 775 X-prefixed aliases (XCWD,
// XCUP, XPWD, XMKD, XRMD) that no modern client needs.
var LegacyCommands = commandGroup("XCWD", "XCUP", "XPWD", "XMKD", "XRMD")

// ActiveModeCommands are the commands that open an active-mode data
// connection (PORT for IPv4, EPRT for IPv6/IPv4). Disabling them forces
// clients onto passive mode, which is the only option some transports —
// QUIC among them — support at all.
var ActiveModeCommands = commandGroup("PORT", "EPRT")

// WriteCommands are every command that mutates the filesystem. Disabling
// them turns the server read-only for every user; for per-user read-only
// access, have the driver's authenticator deny writes instead.
var WriteCommands = commandGroup(
	"STOR", "APPE", "STOU",
	"DELE",
	"RMD", "XRMD", "MKD", "XMKD",
	"RNFR", "RNTO",
)

// SiteCommands covers SITE, gating administrative extensions like SITE
// CHMOD behind a single switch.
var SiteCommands = commandGroup("SITE")

func commandGroup(cmds ...string) []string {
	return cmds
}
