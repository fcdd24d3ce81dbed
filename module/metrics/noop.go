package metrics

// Noop implements every metric surface with no-ops, for tests and for
// embedders that do not export metrics.
type Noop struct{}

var _ ConsensusMetrics = (*Noop)(nil)
var _ RotorMetrics = (*Noop)(nil)

func (Noop) VoteProcessed(string)    {}
func (Noop) CertificateFormed(string) {}
func (Noop) EquivocationDetected()   {}
func (Noop) ViewAdvanced()           {}
func (Noop) ShredsEncoded(int)       {}
func (Noop) BlockDecoded()           {}
func (Noop) DecodeFailed()           {}
func (Noop) RepairRequested(int)     {}
func (Noop) BlockAbandoned()         {}
