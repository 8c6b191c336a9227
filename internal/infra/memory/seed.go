package memory

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"simulacro-engine/internal/domain"
)

// Seed is the YAML layout of a standalone question bank and roster.
type Seed struct {
	Areas     []domain.Area  `yaml:"areas"`
	Questions []seedQuestion `yaml:"questions"`
	Exams     []seedExam     `yaml:"exams"`
	Teachers  []string       `yaml:"teachers"`
	Courses   []seedCourse   `yaml:"courses"`
}

type seedQuestion struct {
	ID         string            `yaml:"id"`
	Area       string            `yaml:"area"`
	Difficulty domain.Difficulty `yaml:"difficulty"`
	Statement  string            `yaml:"statement"`
	ImageURL   string            `yaml:"image_url"`
	Options    []struct {
		ID      string `yaml:"id"`
		Text    string `yaml:"text"`
		Correct bool   `yaml:"correct"`
	} `yaml:"options"`
}

type seedExam struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Sections []struct {
		ID              string `yaml:"id"`
		Name            string `yaml:"name"`
		Instructions    string `yaml:"instructions"`
		Order           int    `yaml:"order"`
		DurationSeconds int    `yaml:"duration_seconds"`
		Blocks          []struct {
			ID        string          `yaml:"id"`
			Area      string          `yaml:"area"`
			Order     int             `yaml:"order"`
			BaseScore decimal.Decimal `yaml:"base_score"`
			Questions []struct {
				ID       string `yaml:"id"`
				Question string `yaml:"question"`
			} `yaml:"questions"`
		} `yaml:"blocks"`
	} `yaml:"sections"`
}

type seedCourse struct {
	domain.CourseKey `yaml:",inline"`
	Students         []string `yaml:"students"`
}

// LoadSeed reads a seed file into a bank and a directory.
func LoadSeed(path string) (*StaticBank, *Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed builds a bank and a directory from YAML. Exams reference questions
// by id; block sizes follow the listed questions.
func ParseSeed(data []byte) (*StaticBank, *Directory, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, nil, fmt.Errorf("parse seed: %w", err)
	}

	areaNames := make(map[string]string, len(seed.Areas))
	for _, a := range seed.Areas {
		areaNames[a.ID] = a.Name
	}
	questions := make(map[string]domain.Question, len(seed.Questions))
	pool := make([]domain.Question, 0, len(seed.Questions))
	for _, sq := range seed.Questions {
		q := domain.Question{
			ID: sq.ID, AreaID: sq.Area, AreaName: areaNames[sq.Area],
			Statement: sq.Statement, ImageURL: sq.ImageURL, Difficulty: sq.Difficulty,
		}
		for _, o := range sq.Options {
			q.Options = append(q.Options, domain.Option{ID: o.ID, Text: o.Text, Correct: o.Correct})
		}
		questions[q.ID] = q
		pool = append(pool, q)
	}

	exams := make([]domain.Exam, 0, len(seed.Exams))
	for _, se := range seed.Exams {
		exam := domain.Exam{ID: se.ID, Name: se.Name}
		for _, ss := range se.Sections {
			section := domain.Section{
				ID: ss.ID, ExamID: se.ID, Name: ss.Name, Instructions: ss.Instructions,
				Order: ss.Order, DurationSeconds: ss.DurationSeconds,
			}
			for _, sb := range ss.Blocks {
				block := domain.AreaBlock{
					ID: sb.ID, SectionID: ss.ID, AreaID: sb.Area, AreaName: areaNames[sb.Area],
					Order: sb.Order, QuestionCount: len(sb.Questions), BaseScore: sb.BaseScore,
				}
				for i, ref := range sb.Questions {
					q, ok := questions[ref.Question]
					if !ok {
						return nil, nil, domain.Wrap(domain.ErrQuestionNotFound, ref.Question)
					}
					block.Questions = append(block.Questions, domain.SectionQuestion{
						ID: ref.ID, AreaBlockID: sb.ID, Order: i + 1, BaseScore: sb.BaseScore, Question: q,
					})
				}
				section.Areas = append(section.Areas, block)
			}
			exam.Sections = append(exam.Sections, section)
		}
		exams = append(exams, exam)
	}

	bank, err := NewStaticBank(exams, pool, seed.Areas)
	if err != nil {
		return nil, nil, err
	}
	dir := NewDirectory()
	for _, id := range seed.Teachers {
		dir.AddTeacher(id)
	}
	for _, c := range seed.Courses {
		dir.AddCourse(c.CourseKey, c.Students...)
	}
	return bank, dir, nil
}
