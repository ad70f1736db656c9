package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"mai-dx-orchestrator/internal/medical"
)

// Service renders a diagnosis session summary as a PDF document.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) Render(session *medical.Session) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	// DejaVuSans covers the non-ASCII test and symptom names that appear in
	// session data. Try the common install locations.
	fontPaths := []string{
		"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	}

	var fontErr error
	fontLoaded := false
	for _, path := range fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return nil, fmt.Errorf("failed to load font for PDF, ensure ttf-dejavu is installed: %w", fontErr)
	}

	if err := pdf.SetFont("DejaVu", "", 20); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "MAI-Dx Diagnosis Report")
	pdf.Br(30)

	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return nil, err
	}
	pdf.Cell(nil, fmt.Sprintf("Generated: %s", time.Now().Format("02.01.2006 15:04")))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("Session: %s", session.SessionID))
	pdf.Br(25)

	writeSection := func(title string, lines []string) error {
		if err := pdf.SetFont("DejaVu", "", 14); err != nil {
			return err
		}
		pdf.Cell(nil, title)
		pdf.Br(15)
		if err := pdf.SetFont("DejaVu", "", 11); err != nil {
			return err
		}
		for _, line := range lines {
			wrapped, _ := pdf.SplitText(line, 500)
			for _, l := range wrapped {
				pdf.Cell(nil, l)
				pdf.Br(12)
			}
		}
		pdf.Br(10)
		return nil
	}

	patient := session.PatientInfo
	patientLines := []string{
		fmt.Sprintf("- Age: %s", renderAge(patient.Age)),
		fmt.Sprintf("- Gender: %s", orUnknown(patient.Gender)),
		fmt.Sprintf("- Symptoms: %s", strings.Join(patient.Symptoms, ", ")),
	}
	if err := writeSection("Patient", patientLines); err != nil {
		return nil, err
	}

	if d := session.ProposedDiagnosis; d != nil {
		lines := []string{
			fmt.Sprintf("- Condition: %s", d.Condition),
			fmt.Sprintf("- Confidence: %.0f%%", d.Confidence*100),
			fmt.Sprintf("- Severity: %s", d.Severity),
			fmt.Sprintf("- Reasoning: %s", d.Reasoning),
		}
		if err := writeSection("Diagnosis", lines); err != nil {
			return nil, err
		}
	}

	if c := session.CostAnalysis; c != nil {
		lines := []string{
			fmt.Sprintf("- Total cost: %.0f KRW", c.TotalCost),
			fmt.Sprintf("- Patient responsibility: %.0f KRW", c.PatientResponsibility),
			fmt.Sprintf("- Insurance coverage: %.0f%%", c.InsuranceCoverage*100),
			fmt.Sprintf("- Cost effectiveness: %s", c.CostEffectiveness),
		}
		if err := writeSection("Cost Analysis", lines); err != nil {
			return nil, err
		}
	}

	if e := session.Evaluation; e != nil {
		lines := []string{
			fmt.Sprintf("- Accuracy: %.0f%%", e.AccuracyScore*100),
			fmt.Sprintf("- Cost efficiency: %.0f%%", e.CostEfficiency*100),
			fmt.Sprintf("- Safety: %.0f%%", e.SafetyScore*100),
			fmt.Sprintf("- Overall: %.0f%%", e.OverallScore*100),
		}
		if err := writeSection("SDBench Evaluation", lines); err != nil {
			return nil, err
		}
	}

	if d := session.FinalDecision; d != nil {
		lines := []string{
			fmt.Sprintf("- Decision: %s", d.Decision),
			fmt.Sprintf("- Reasoning: %s", d.Reasoning),
			fmt.Sprintf("- Next steps: %s", strings.Join(d.NextSteps, ", ")),
		}
		if err := writeSection("Final Decision", lines); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func renderAge(age *int) string {
	if age == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *age)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
