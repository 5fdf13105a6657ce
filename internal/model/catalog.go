package model

// Fixed value pools shared by the generator and tests.
var (
	FirstNames  = []string{"John", "Jane", "Maria", "Luis", "Aisha", "Michael", "Sarah"}
	LastNames   = []string{"Smith", "Johnson", "Garcia", "Brown", "Lopez", "Williams"}
	Vaccines    = []string{"MMR", "DTaP", "Polio", "HepB", "COVID-19"}
	Providers   = []string{"Clinic_A", "Clinic_B", "Hospital_C"}
	Sexes       = []string{string(SexMale), string(SexFemale)}
	DoseNumbers = []int{1, 2, 3}

	// ZipCodes includes an empty entry so a share of records has no zip code.
	ZipCodes = []string{"21201", "21202", "21203", ""}
)

// Default file names of the two programs.
const (
	SyntheticDataFile    = "synthetic_vaccination_data.csv"
	FlaggedRecordsFile   = "iis_data_with_quality_flags.csv"
	QualitySummaryFile   = "iis_quality_summary.csv"
	DuplicatePatientFile = "iis_duplicate_patients.csv"
)
