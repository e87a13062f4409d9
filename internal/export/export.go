package export

import (
	"time"

	"github.com/beevik/etree"
	"github.com/formrelay/form-service/internal/models"
)

// Document renders a form's submissions as an XML document:
//
//	<form formId="contact" name="Contact form">
//	  <submission datetime="..." origin="...">
//	    <field name="key">value</field>
//	  </submission>
//	</form>
func Document(form *models.Form, submissions []models.FormSubmit) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("form")
	root.CreateAttr("formId", form.FormID)
	root.CreateAttr("name", form.Name)

	for _, sub := range submissions {
		elem := root.CreateElement("submission")
		elem.CreateAttr("datetime", sub.Datetime.Format(time.RFC3339))
		if sub.Origin != "" {
			elem.CreateAttr("origin", sub.Origin)
		}
		for key, value := range sub.Parameters {
			field := elem.CreateElement("field")
			field.CreateAttr("name", key)
			field.SetText(value)
		}
	}

	doc.Indent(2)
	return doc
}
