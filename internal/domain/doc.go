// Package domain models the national reservoir bulletin ("BD-Embalses")
// published weekly by MITECO, the Spanish Ministry for the Ecological
// Transition.
//
// # Data Source
//
// The bulletin is a zip archive linked from the hydrological bulletin page
// at https://www.miteco.gob.es/es/agua/temas/evaluacion-de-los-recursos-hidricos/boletin-hidrologico.html.
// The archive is refreshed every Tuesday and has carried two incompatible
// payloads over its lifetime:
//
//	Spreadsheet (.xlsx): one sheet, one row per reservoir per week.
//	Access database (.mdb): the older format; the reservoir table is named
//	  after "embalse", "presa" or "pantano" in most releases.
//
// # Source Conventions
//
// Column names have drifted between releases. The same concept has been
// labelled several ways:
//
//	reservoir: EMBALSE_NOMBRE, EMBALSE, NOMBRE_EMBALSE, NOMBRE
//	basin:     AMBITO_NOMBRE, CUENCA, AMBITO
//	capacity:  AGUA_TOTAL, CAPACIDAD, CAPACIDAD_TOTAL, CAP_TOTAL
//	volume:    AGUA_ACTUAL, VOLUMEN
//	percent:   PORCENTAJE, PORC
//	date:      FECHA (or any column containing FECHA / DATE)
//	hydro use: ELECTRICO_FLAG
//
// Volumes are cubic hectometres (hm³). Numeric cells are often text with a
// comma decimal separator ("91,00"). Dates arrive as ISO strings, as
// mdb-export timestamps ("01/03/23 00:00:00", month first) or as Excel
// serial day numbers.
//
// Columns that match no alias are preserved verbatim in
// [NormalizedRecord.Extra] so that new source columns never break a run.
//
// # Derived Fields
//
// percent_full = round(current_volume / capacity * 100, 2) when the source
// does not supply it, both operands are present and capacity > 0.
package domain
