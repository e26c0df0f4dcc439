package classify

const (
	DefaultGoodSitLabel   = "Baik"
	DefaultKeepMessage    = "Pertahankan posisi tubuh Anda tetap tegak."
	DefaultCorrectMessage = "Perbaiki posisi duduk Anda."
	DefaultUnavailable    = "Tidak tersedia"
)

// Advisor turns the sitting verdict into the suggestion shown to the user.
type Advisor struct {
	GoodLabel string
	Keep      string
	Correct   string
}

func DefaultAdvisor() Advisor {
	return Advisor{GoodLabel: DefaultGoodSitLabel, Keep: DefaultKeepMessage, Correct: DefaultCorrectMessage}
}

// Suggest compares by exact label equality.
func (a Advisor) Suggest(sitLabel string) string {
	if sitLabel == a.GoodLabel {
		return a.Keep
	}
	return a.Correct
}
