// Package ftp is a small FTP client used to drive an ftpd server end to
// end: dial, authenticate, move data, and read back replies exactly as a
// real client would. It is not a general-purpose FTP toolkit — it covers
// the subset of RFC 959/2228/2389/2428/3659 that a control/data-channel
// integration test needs to exercise, and nothing beyond that.
//
// # Basic usage
//
//	client, err := ftp.Dial("127.0.0.1:2121")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Quit()
//
//	if err := client.Login("alice", "secret"); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := client.Store("upload.bin", reader); err != nil {
//	    log.Fatal(err)
//	}
//
// # TLS
//
// Explicit TLS (AUTH TLS on the control channel, PROT P for data) is
// supported via WithExplicitTLS:
//
//	client, err := ftp.Dial("127.0.0.1:2121", ftp.WithExplicitTLS(&tls.Config{
//	    InsecureSkipVerify: true,
//	}))
//
// # Errors
//
// Any reply outside the expected code range comes back as *ProtocolError,
// which carries the command, the raw response text, and the numeric code:
//
//	if err := client.Delete("missing.txt"); err != nil {
//	    var pe *ftp.ProtocolError
//	    if errors.As(err, &pe) {
//	        fmt.Println(pe.Code, pe.Response)
//	    }
//	}
package ftp
