package records

// AnchorID is the record the default roster is browsed from.
const AnchorID = "3616"

// Builtin returns the roster served when no other source is configured,
// ordered master to apprentice.
func Builtin() []Record {
	return []Record{
		{ID: "5956", Name: "Darth Bane", HomeworldID: "18", Homeworld: "Apatros", ApprenticeID: "4629"},
		{ID: "4629", Name: "Darth Zannah", HomeworldID: "26", Homeworld: "Somov Rit", MasterID: "5956", ApprenticeID: "2941"},
		{ID: "2941", Name: "Darth Cognus", HomeworldID: "3", Homeworld: "Ambria", MasterID: "4629", ApprenticeID: "1330"},
		{ID: "1330", Name: "Darth Vectivus", HomeworldID: "12", Homeworld: "Bogden", MasterID: "2941", ApprenticeID: "1121"},
		{ID: "1121", Name: "Darth Tenebrous", HomeworldID: "9", Homeworld: "Clak'dor VII", MasterID: "1330", ApprenticeID: "2350"},
		{ID: "2350", Name: "Darth Plagueis", HomeworldID: "15", Homeworld: "Mygeeto", MasterID: "1121", ApprenticeID: "3616"},
		{ID: "3616", Name: "Darth Sidious", HomeworldID: "7", Homeworld: "Naboo", MasterID: "2350", ApprenticeID: "1489"},
		{ID: "1489", Name: "Darth Vader", HomeworldID: "58", Homeworld: "Tatooine", MasterID: "3616", ApprenticeID: "2869"},
		{ID: "2869", Name: "Darth Krayt", HomeworldID: "58", Homeworld: "Tatooine", MasterID: "1489", ApprenticeID: "5105"},
		{ID: "5105", Name: "Darth Talon", HomeworldID: "40", Homeworld: "Ryloth", MasterID: "2869"},
	}
}
