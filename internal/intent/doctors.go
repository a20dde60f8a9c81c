package intent

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/Kiko/internal/directory"
	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/util"
)

const doctorSeparator = "<br><br>"

var doctorEmojis = []string{"😊", "👨‍⚕️", "💉", "🩺"}

var (
	psychiatryWords = []string{"psikiat", "jiwa", "mental"}
	pediatricWords  = []string{"anak", "pediatri"}
	internalWords   = []string{"dalam", "penyakit dalam", "jantung"}
	listAllWords    = []string{"dokter", "jadwal", "tersedia", "ada", "siapa", "list", "daftar", "semua", "lihat"}
)

// lookupDoctors picks doctors for a lowercased query: specialty bucket first,
// then an exact name mention overrides it, then a generic listing.
func lookupDoctors(dir Directory, lower string) []models.Doctor {
	var found []models.Doctor
	switch {
	case containsAny(lower, psychiatryWords):
		found = dir.Department(directory.DepartmentPsychiatry)
	case containsAny(lower, pediatricWords):
		found = filterSpecialty(dir.Department(directory.DepartmentGeneral), "Anak")
	case containsAny(lower, internalWords):
		found = filterSpecialty(dir.Department(directory.DepartmentGeneral), "Penyakit Dalam")
	}

	for _, doc := range dir.Doctors() {
		if strings.Contains(lower, strings.ToLower(doc.Name)) {
			found = []models.Doctor{doc}
			break
		}
	}

	if len(found) == 0 && containsAny(lower, listAllWords) {
		found = dir.Doctors()
	}
	return found
}

func filterSpecialty(docs []models.Doctor, specialty string) []models.Doctor {
	var out []models.Doctor
	for _, d := range docs {
		if strings.Contains(d.Specialty, specialty) {
			out = append(out, d)
		}
	}
	return out
}

func renderDoctors(docs []models.Doctor) string {
	blocks := make([]string, 0, len(docs))
	for _, d := range docs {
		blocks = append(blocks, fmt.Sprintf(
			"%s <b>%s</b><br>Spesialis: %s<br>Jadwal: %s<br>Kontak: %s<br>Fun Fact: %s<br><br><i>%s</i>",
			util.PickOne(doctorEmojis, defaultEmoji), d.Name, d.Specialty, d.Schedule, d.Contact, d.FunFact, d.Greeting,
		))
	}
	return strings.Join(blocks, doctorSeparator)
}
