// Package document projects a prescription into a fixed printable layout and
// writes it as PDF.
package document

import (
	"strconv"
	"strings"
	"time"

	"github.com/perobal/sismed/internal/domain/civildate"
	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/patient"
	"github.com/perobal/sismed/internal/domain/prescription"
)

const (
	Title           = "RECEITUÁRIO MÉDICO"
	NotInformed     = "NÃO INFORMADO"
	MedicinesLabel  = "MEDICAMENTOS PRESCRITOS:"
	NotesLabel      = "OBSERVAÇÕES:"
	SignatureLabel  = "Assinatura do Profissional"
	signatureRuleCh = "_"
	signatureRuleN  = 40
)

// Organization is the institution printed on every document.
type Organization struct {
	Name     string
	Subtitle string
	Address  string
	LogoPath string
}

// DefaultOrganization returns the municipal health department header.
func DefaultOrganization() Organization {
	return Organization{
		Name:     "PREFEITURA MUNICIPAL DE PEROBAL",
		Subtitle: "SECRETARIA MUNICIPAL DE SAÚDE",
		Address:  "Rua Jaracatiá, 1060 - Telefax (044)3625-1225 CEP. 87538-000 PEROBAL - PARANÁ",
		LogoPath: "static/logo_perobal.png",
	}
}

// withDefaults fills blank fields from DefaultOrganization.
func (o Organization) withDefaults() Organization {
	d := DefaultOrganization()
	if strings.TrimSpace(o.Name) == "" {
		o.Name = d.Name
	}
	if strings.TrimSpace(o.Subtitle) == "" {
		o.Subtitle = d.Subtitle
	}
	if strings.TrimSpace(o.Address) == "" {
		o.Address = d.Address
	}
	return o
}

// Kind identifies a layout node.
type Kind string

const (
	KindLogo      Kind = "logo"
	KindHeader    Kind = "header"
	KindTitle     Kind = "title"
	KindTable     Kind = "table"
	KindHeading   Kind = "heading"
	KindListItem  Kind = "list_item"
	KindParagraph Kind = "paragraph"
	KindSpacer    Kind = "spacer"
	KindSignature Kind = "signature"
	KindFooter    Kind = "footer"
)

// Row is one label/value line of a table node.
type Row struct {
	Label string
	Value string
}

// Node is one block of the document. Which fields are meaningful depends on
// Kind: Text for text blocks, Detail for the posology under a list item,
// Rows for tables, Height (mm) for spacers and Path for the logo.
type Node struct {
	Kind   Kind
	Text   string
	Detail string
	Rows   []Row
	Height float64
	Path   string
}

// Sheet is everything a document is built from. Medicines holds the catalog
// entries that still resolve, keyed by external id.
type Sheet struct {
	Prescription *prescription.Prescription
	Patient      *patient.Patient
	Medicines    map[string]*medicine.Medicine
}

// Layout is the built document.
type Layout struct {
	Nodes []Node
	// Created is stamped as the PDF creation date so equal input yields equal
	// bytes.
	Created time.Time
	// Dropped lists item medicine ids that no longer resolve.
	Dropped []string
}

// Build lays out a prescription. It reads nothing outside its arguments.
func Build(org Organization, s Sheet) Layout {
	org = org.withDefaults()
	rx, pat := s.Prescription, s.Patient

	var out Layout
	out.Created = rx.CreatedAt.UTC()
	add := func(n Node) { out.Nodes = append(out.Nodes, n) }
	space := func(mm float64) { add(Node{Kind: KindSpacer, Height: mm}) }

	if org.LogoPath != "" {
		add(Node{Kind: KindLogo, Path: org.LogoPath})
	}
	add(Node{Kind: KindHeader, Text: org.Name})
	add(Node{Kind: KindHeader, Text: org.Subtitle})
	space(5)

	add(Node{Kind: KindTitle, Text: Title})
	space(10)

	nationalID := NotInformed
	if pat.NationalID != "" {
		nationalID = pat.NationalID
	}
	birth := NotInformed
	if !pat.BirthDate.IsZero() {
		birth = pat.BirthDate.Display()
	}
	add(Node{Kind: KindTable, Rows: []Row{
		{Label: "Paciente:", Value: pat.Name},
		{Label: "CPF:", Value: nationalID},
		{Label: "Data Nascimento:", Value: birth},
		{Label: "Data:", Value: rx.IssueDate.Display()},
	}})
	space(10)

	add(Node{Kind: KindHeading, Text: MedicinesLabel})
	space(5)

	// Numbers follow the stored position, so a dropped item leaves a gap.
	for i, it := range rx.Items {
		m, ok := s.Medicines[it.MedicineID]
		if !ok {
			out.Dropped = append(out.Dropped, it.MedicineID)
			continue
		}
		add(Node{
			Kind:   KindListItem,
			Text:   strconv.Itoa(i+1) + ". " + m.Label(),
			Detail: strings.TrimSpace(it.Posology),
		})
		space(3)
	}

	if strings.TrimSpace(rx.Notes) != "" {
		space(5)
		add(Node{Kind: KindHeading, Text: NotesLabel})
		add(Node{Kind: KindParagraph, Text: rx.Notes})
	}

	space(20)
	add(Node{Kind: KindSignature, Text: SignatureLabel})
	space(10)
	add(Node{Kind: KindFooter, Text: org.Address})

	return out
}

// ListItems returns the numbered medicine lines of a layout.
func (l Layout) ListItems() []Node {
	var items []Node
	for _, n := range l.Nodes {
		if n.Kind == KindListItem {
			items = append(items, n)
		}
	}
	return items
}

// Filename suggests a download name: receita_<NAME>_<YYYYMMDD>.pdf with
// spaces in the patient name replaced by underscores.
func Filename(patientName string, issued civildate.Date) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', '"':
			return '_'
		}
		return r
	}, strings.TrimSpace(patientName))
	return "receita_" + name + "_" + issued.Compact() + ".pdf"
}

func signatureRule() string {
	return strings.Repeat(signatureRuleCh, signatureRuleN)
}
