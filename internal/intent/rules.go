package intent

import (
	"fmt"

	"github.com/BTreeMap/Kiko/internal/directory"
	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/util"
)

type rule struct {
	name  string
	apply func(e *Engine, t *turn) *models.IntentReply
}

// keywordRule fires when the lowercased text contains any keyword.
func keywordRule(name string, keywords []string, reply func(e *Engine, t *turn) *models.IntentReply) rule {
	return rule{name: name, apply: func(e *Engine, t *turn) *models.IntentReply {
		if !containsAny(t.lower, keywords) {
			return nil
		}
		return reply(e, t)
	}}
}

func fixed(intent models.Intent, format string) func(e *Engine, t *turn) *models.IntentReply {
	return func(e *Engine, t *turn) *models.IntentReply {
		return &models.IntentReply{Intent: intent, Reply: fmt.Sprintf(format, t.emoji)}
	}
}

func withHospital(intent models.Intent, format string) func(e *Engine, t *turn) *models.IntentReply {
	return func(e *Engine, t *turn) *models.IntentReply {
		return &models.IntentReply{Intent: intent, Reply: fmt.Sprintf(format, t.emoji, e.dir.Hospital().Name)}
	}
}

func faq(topic, prefix string) func(e *Engine, t *turn) *models.IntentReply {
	return func(e *Engine, t *turn) *models.IntentReply {
		answer, ok := e.dir.FAQ(topic)
		if !ok {
			return nil
		}
		return &models.IntentReply{Intent: models.IntentFAQ, Reply: prefix + " " + answer}
	}
}

func phrase(set string, withEmoji bool) func(e *Engine, t *turn) *models.IntentReply {
	return func(e *Engine, t *turn) *models.IntentReply {
		p := util.PickOne(e.dir.Phrases(set), "")
		if p == "" {
			return nil
		}
		if withEmoji {
			p = t.emoji + " " + p
		}
		return &models.IntentReply{Intent: models.IntentSmalltalk, Reply: p}
	}
}

// defaultRules returns the keyword handlers in evaluation order.
func defaultRules() []rule {
	return []rule{
		keywordRule("jokes", []string{"lucu", "joke", "gokil", "ngakak", "ketawa"}, phrase(directory.PhraseJokes, true)),
		keywordRule("thanks", []string{"makasih", "terima kasih", "thanks"},
			fixed(models.IntentSmalltalk, "%s Sama-sama! Senang bisa membantu~")),
		keywordRule("farewell", []string{"bye", "dadah", "sampai jumpa"}, phrase(directory.PhraseFarewell, false)),
		{name: "empathy", apply: func(e *Engine, t *turn) *models.IntentReply {
			if t.mood != MoodSad {
				return nil
			}
			p := util.PickOne(e.dir.Phrases(directory.PhraseEmpathy), "")
			if p == "" {
				return nil
			}
			return &models.IntentReply{Intent: models.IntentEmpathy, Reply: p}
		}},
		keywordRule("doctor", []string{"dokter", "dr", "jadwal dokter", "spesialis"}, func(e *Engine, t *turn) *models.IntentReply {
			docs := lookupDoctors(e.dir, t.lower)
			if len(docs) == 0 {
				return nil
			}
			return &models.IntentReply{Intent: models.IntentDoctorInfo, Reply: renderDoctors(docs)}
		}),
		keywordRule("faq_emergency", []string{"igd", "gawat darurat", "emergency", "ugd"}, faq(directory.TopicEmergency, "🚨")),
		keywordRule("faq_inpatient", []string{"rawat inap", "dirawat", "opname"}, faq(directory.TopicInpatient, "🏥")),
		keywordRule("faq_visiting", []string{"besuk", "jenguk", "jam kunjungan"}, faq(directory.TopicVisitHours, "🕐")),
		keywordRule("booking_entry", []string{"buat janji", "booking", "daftar", "appointment"}, func(e *Engine, t *turn) *models.IntentReply {
			t.next.Pending = models.PendingBooking
			return &models.IntentReply{Intent: models.IntentBookAppointment, Reply: fmt.Sprintf(replyBookingFormatFmt, t.emoji)}
		}),
		keywordRule("counseling_entry", []string{"curhat", "cerita", "bingung", "galau"}, func(e *Engine, t *turn) *models.IntentReply {
			doc, ok := e.dir.PsychiatryContact()
			if !ok {
				return nil
			}
			t.next.Pending = models.PendingCounseling
			return &models.IntentReply{
				Intent: models.IntentCounseling,
				Reply:  fmt.Sprintf(replyCounselingEntryFmt, doc.Name, doc.Specialty, doc.Schedule, doc.Contact),
			}
		}),
		keywordRule("bot_condition", []string{"apa kabar", "kamu gimana", "kamu baik"},
			fixed(models.IntentBotCondition, "%s Aku baik kok, makasih! Kamu gimana?")),
		keywordRule("bot_activity", []string{"lagi apa", "lagi ngapain", "sedang apa"},
			fixed(models.IntentBotActivity, "%s Lagi stand by sambil nunggu kamu. Ada yang bisa aku bantu?")),
		keywordRule("weather", []string{"cuaca"},
			fixed(models.IntentWeather, "%s Aku belum bisa cek cuaca real-time. Kamu bisa cek di aplikasi BMKG.")),
		keywordRule("bot_name", []string{"nama kamu"},
			withHospital(models.IntentBotName, "%s Aku Kiko, asisten virtual %s.")),
		keywordRule("bot_type", []string{"kamu hidup", "kamu manusia", "kamu apa"}, func(e *Engine, t *turn) *models.IntentReply {
			return &models.IntentReply{
				Intent: models.IntentBotType,
				Reply:  fmt.Sprintf("Aku chatbot, asisten virtual %s. Senang ngobrol denganmu!", e.dir.Hospital().Name),
			}
		}),
		keywordRule("bot_creator", []string{"dibuat oleh siapa", "siapa pencipta"},
			fixed(models.IntentBotCreator, "%s Aku dibuat oleh Dhafa Marcelio. Cek @dapdhapa di Instagram!")),
		keywordRule("bot_capabilities", []string{"kamu bisa apa", "fitur kamu"},
			withHospital(models.IntentBotCapabilities, "%s Aku bisa jawab pertanyaan, kasih info, dan bantu layanan di %s.")),
		keywordRule("greeting", []string{"hi", "halo", "hai", "assalamualaikum", "selamat"}, phrase(directory.PhraseGreetings, true)),
		keywordRule("location", []string{"dimana lokasi", "dimana tempat", "nama jalan", "jalan", "lokasi"}, func(e *Engine, t *turn) *models.IntentReply {
			h := e.dir.Hospital()
			return &models.IntentReply{
				Intent: models.IntentLocation,
				Reply:  fmt.Sprintf("%sHalo~. Untuk lokasi %s ada di %s", t.emoji, h.Name, h.Address),
			}
		}),
	}
}
