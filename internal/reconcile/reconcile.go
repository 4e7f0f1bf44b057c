package reconcile

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/fleetmon/internal/model"
)

// Registry is the slice of the registry client the reconciler needs: it
// only ever rewrites the endpoint field of a record.
type Registry interface {
	UpdateEndpoint(ctx context.Context, rec model.ClientRecord, endpoint string) error
}

// Reconciler repoints downstream client records at the live address set.
// Addresses referenced by more than one record are conflicts and are never
// preserved: a shared endpoint silently fails for all but one consumer, so
// redistribution beats guessing which record is the right one.
type Reconciler struct {
	registry Registry
	logger   zerolog.Logger

	// DefaultPort is used when a record's current endpoint carries no
	// port to keep. Zero writes the bare address.
	defaultPort int
}

func NewReconciler(registry Registry, defaultPort int, logger zerolog.Logger) *Reconciler {
	return &Reconciler{registry: registry, defaultPort: defaultPort, logger: logger}
}

// Reconcile assigns every record an address from live, preserving current
// assignments where possible. Re-running with an unchanged live set and the
// records as left by the previous run is a no-op (all kept). An empty live
// set is a no-op: there is nothing to point clients at.
func (r *Reconciler) Reconcile(ctx context.Context, live []netip.Addr, records []model.ClientRecord) model.ReconcileSummary {
	var sum model.ReconcileSummary
	if len(live) == 0 || len(records) == 0 {
		return sum
	}

	liveSet := make(map[netip.Addr]bool, len(live))
	for _, a := range live {
		liveSet[a] = true
	}

	type parsed struct {
		addr netip.Addr
		ok   bool
		port string
	}
	current := make([]parsed, len(records))
	refs := make(map[netip.Addr]int)
	for i, rec := range records {
		addr, port, ok := splitEndpoint(rec.Endpoint)
		current[i] = parsed{addr: addr, ok: ok, port: port}
		if ok {
			refs[addr]++
		}
	}

	// First pass: a record keeps its address only when it is live and no
	// other record references it.
	kept := make([]bool, len(records))
	used := make(map[netip.Addr]bool)
	for i := range records {
		cur := current[i]
		if cur.ok && liveSet[cur.addr] && refs[cur.addr] == 1 {
			kept[i] = true
			used[cur.addr] = true
		}
	}

	// Second pass: hand out the remaining live addresses in sorted order;
	// once the pool runs dry, reuse live addresses round-robin by the
	// record's ordinal so every record ends up with some target.
	sorted := append([]netip.Addr(nil), live...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	pool := make([]netip.Addr, 0, len(sorted))
	for _, a := range sorted {
		if !used[a] {
			pool = append(pool, a)
		}
	}

	next := 0
	for i, rec := range records {
		if kept[i] {
			sum.Kept++
			continue
		}

		var target netip.Addr
		if next < len(pool) {
			target = pool[next]
			next++
		} else {
			target = sorted[i%len(sorted)]
		}

		if current[i].ok && current[i].addr == target {
			sum.Kept++
			continue
		}

		endpoint := r.formatEndpoint(target, current[i].port)
		if err := r.registry.UpdateEndpoint(ctx, rec, endpoint); err != nil {
			r.logger.Error().Err(err).Str("client", rec.Alias).Str("endpoint", endpoint).Msg("endpoint update failed")
			sum.Failed++
			continue
		}
		r.logger.Info().Str("client", rec.Alias).Str("endpoint", endpoint).Msg("endpoint updated")
		sum.Updated++
	}
	return sum
}

// splitEndpoint parses "host:port" or a bare host, tolerating URL-shaped
// values like "http://host:port/path".
func splitEndpoint(endpoint string) (netip.Addr, string, bool) {
	s := endpoint
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return netip.Addr{}, "", false
	}

	host, port := s, ""
	if h, p, err := net.SplitHostPort(s); err == nil {
		host, port = h, p
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, "", false
	}
	return addr, port, true
}

func (r *Reconciler) formatEndpoint(addr netip.Addr, port string) string {
	if port == "" && r.defaultPort > 0 {
		port = strconv.Itoa(r.defaultPort)
	}
	if port == "" {
		return addr.String()
	}
	return net.JoinHostPort(addr.String(), port)
}
