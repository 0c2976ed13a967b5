package telemetry

import "testing"

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name string
		obs  *Observation
		want Status
	}{
		{name: "no data", obs: nil, want: StatusNoData},
		{name: "burst", obs: &Observation{LeakConfirmed: true, BurstConfirmed: true}, want: StatusBurst},
		{name: "leak", obs: &Observation{LeakConfirmed: true}, want: StatusLeak},
		{name: "burst without leak is normal", obs: &Observation{BurstConfirmed: true}, want: StatusNormal},
		{name: "normal", obs: &Observation{}, want: StatusNormal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus(tc.obs); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
			if got := DeriveStatus(tc.obs); got != tc.want {
				t.Fatalf("repeated derivation changed: %q", got)
			}
		})
	}
}

func TestDerivedQualityFlags(t *testing.T) {
	obs := &Observation{CorrelationScore: 70}
	if SignalQualityGood(obs) {
		t.Fatalf("correlation 70 must not count as good")
	}
	obs.CorrelationScore = 70.5
	if !SignalQualityGood(obs) {
		t.Fatalf("correlation 70.5 should count as good")
	}
	if !EnvironmentalClean(obs) {
		t.Fatalf("expected clean environment")
	}
	obs.EnvironmentalNoise = true
	if EnvironmentalClean(obs) {
		t.Fatalf("expected noisy environment")
	}
}

func TestHasActualBurst(t *testing.T) {
	if (Observation{BurstConfirmed: true, BurstType: BurstNormal}).HasActualBurst() {
		t.Fatalf("NORMAL FLOW must not count as actual burst")
	}
	if (Observation{BurstConfirmed: false, BurstType: BurstPipeline}).HasActualBurst() {
		t.Fatalf("unconfirmed burst must not count")
	}
	if !(Observation{BurstConfirmed: true, BurstType: BurstCatastrophic}).HasActualBurst() {
		t.Fatalf("confirmed catastrophic burst should count")
	}
}
