package detector

import "github.com/hervehildenbrand/rpl-watchdog/pkg/watchdog"

// disClaims are the codes a DIS exchange explains: a solicitation in flight
// is followed by DIOs and transient parent set churn.
var disClaims = watchdog.FieldOf(
	watchdog.DIOPacket,
	watchdog.ParentAdd,
	watchdog.ParentSetPrune,
	watchdog.DISPacket,
	watchdog.DISUnicast,
)

// DISProtector clears DIO and parent churn findings while a DIS exchange
// is identified.
type DISProtector struct {
	claims watchdog.Field
}

func NewDISProtector() *DISProtector { return &DISProtector{} }

func (*DISProtector) Name() string { return "dis" }

func (p *DISProtector) Init() error {
	p.claims = disClaims
	return nil
}

func (p *DISProtector) Handled(out *watchdog.Field) { out.Or(&p.claims) }

func (*DISProtector) Matches(id *watchdog.Field) bool {
	return id.Get(watchdog.DISPacket) || id.Get(watchdog.DISUnicast)
}

func (p *DISProtector) Apply(result *watchdog.Field) error {
	result.AndNot(&p.claims)
	return nil
}

// RegisterProtectors registers the built-in protector on engine.
func RegisterProtectors(engine *watchdog.ProtectorEngine) error {
	_, err := engine.Register(NewDISProtector())
	return err
}
