package countermeasure

import "testing"

func TestCostOrdering(t *testing.T) {
	t.Parallel()
	if !(Cost("restartSimulation") < Cost("coreReboot") && Cost("coreReboot") < Cost("platformReinitialization")) {
		t.Fatalf("cost ordering violated: restart=%d reboot=%d reinit=%d",
			Cost("restartSimulation"), Cost("coreReboot"), Cost("platformReinitialization"))
	}
}

func TestNames(t *testing.T) {
	t.Parallel()
	cases := []struct {
		cm   Countermeasure
		name string
	}{
		{RestartSimulation{}, "restartSimulation"},
		{CoreReboot{}, "coreReboot"},
		{PlatformReinitialization{}, "platformReinitialization"},
	}
	for _, tc := range cases {
		if got := tc.cm.Name(); got != tc.name {
			t.Errorf("Name()=%s want %s", got, tc.name)
		}
	}
}
