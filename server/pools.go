package server

import (
	"bufio"
	"sync"
)

// Per-session control-channel buffers are pooled because a busy server
// churns through thousands of short-lived sessions; reusing the bufio and
// telnet-filter allocations avoids putting that churn on the GC.
var (
	controlReaderPool = sync.Pool{
		New: func() any { return bufio.NewReader(nil) },
	}
	controlWriterPool = sync.Pool{
		New: func() any { return bufio.NewWriter(nil) },
	}
	telnetReaderPool = sync.Pool{
		New: func() any { return newTelnetReader(nil) },
	}
)
