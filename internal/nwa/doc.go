// Package nwa implements a client for the Emulator Network Access (NWA)
// protocol, the local TCP control protocol exposed by emulators such as
// snes9x-nwa and bsnes-plus-nwa.
//
// # Protocol Overview
//
// Requests are single text lines; arguments are separated by ';':
//
//	EMULATOR_INFO\n
//	CORES_LIST SNES\n
//
// Replies come in two shapes, told apart by their first byte:
//
//	Text reply:   \n key:value\n key:value\n \n
//	Binary reply: \x00 <uint32 big-endian length> <payload>
//
// A text reply carrying an "error" key reports a failed command. Any other
// lead byte is a malformed reply; it is surfaced as an invalid Reply and the
// rest of that line is discarded.
//
// # Basic Usage
//
// The Client is event driven: ConnectToHost returns immediately and the
// outcome is reported through Handlers. Each decoded reply is queued and
// announced through ReadyRead.
//
//	c := nwa.NewClient()
//	c.SetHandlers(nwa.Handlers{
//	    Connected: func() { _ = c.EmuInfo() },
//	    ReadyRead: func() { fmt.Println(c.ReadReply().Map()) },
//	})
//	c.ConnectToHost("127.0.0.1", nwa.DefaultPort)
//
// Callers that prefer blocking can pair a command with WaitForReadyRead:
//
//	_ = c.EmuStatus()
//	if c.WaitForReadyRead(100 * time.Millisecond) {
//	    rep := c.ReadReply()
//	}
//
// # Thread Safety
//
// Client is safe for concurrent use. Handlers run on the client's dial and
// reader goroutines and must not block for long.
package nwa
