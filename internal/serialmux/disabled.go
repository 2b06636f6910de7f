package serialmux

import (
	"io"
	"net/http"
	"sync"
)

// DisabledSerialMux stands in for a receiver when none is attached
// (--disable-gps). It never produces sentences and swallows commands, but
// subscriptions and Close behave as on a real mux so shutdown is unchanged.
type DisabledSerialMux struct {
	*SerialMux[*silentPort]
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{NewSerialMux(newSilentPort())}
}

// AttachAdminRoutes replaces the receiver routes with a status line.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/gps-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("gps receiver disabled"))
	})
}

// silentPort blocks reads until closed and discards writes.
type silentPort struct {
	done chan struct{}
	once sync.Once
}

func newSilentPort() *silentPort { return &silentPort{done: make(chan struct{})} }

func (p *silentPort) Read([]byte) (int, error) {
	<-p.done
	return 0, io.EOF
}

func (p *silentPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *silentPort) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
