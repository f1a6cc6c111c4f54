// internal/models/constants.go
package models

// Departments that can hold officers. GENERAL is the catch-all an
// unclassifiable application falls back to.
const (
	DepartmentRevenue       = "REVENUE"
	DepartmentPolice        = "POLICE"
	DepartmentHealth        = "HEALTH"
	DepartmentEducation     = "EDUCATION"
	DepartmentTransport     = "TRANSPORT"
	DepartmentMunicipal     = "MUNICIPAL"
	DepartmentCivilSupplies = "CIVIL_SUPPLIES"
	DepartmentGeneral       = "GENERAL"
)

// Service categories the classification gateway can produce.
const (
	CategoryLandRecord           = "LAND_RECORD"
	CategoryPoliceVerification   = "POLICE_VERIFICATION"
	CategoryRationCard           = "RATION_CARD"
	CategoryVehicleRegistration  = "VEHICLE_REGISTRATION"
	CategoryBuildingPermission   = "BUILDING_PERMISSION"
	CategoryRevenueMutation      = "REVENUE_MUTATION"
	CategoryHealthCertificate    = "HEALTH_CERTIFICATE"
	CategoryEducationCertificate = "EDUCATION_CERTIFICATE"
	CategoryGeneral              = "GENERAL"
)

// ServiceToDepartment maps a service category to the department that
// reviews it. Unknown categories route to GENERAL.
var ServiceToDepartment = map[string]string{
	CategoryLandRecord:           DepartmentRevenue,
	CategoryPoliceVerification:   DepartmentPolice,
	CategoryRationCard:           DepartmentCivilSupplies,
	CategoryVehicleRegistration:  DepartmentTransport,
	CategoryBuildingPermission:   DepartmentMunicipal,
	CategoryRevenueMutation:      DepartmentRevenue,
	CategoryHealthCertificate:    DepartmentHealth,
	CategoryEducationCertificate: DepartmentEducation,
	CategoryGeneral:              DepartmentGeneral,
}

// IsKnownCategory reports whether the classification output is one of the
// categories the portal serves.
func IsKnownCategory(category string) bool {
	_, ok := ServiceToDepartment[category]
	return ok
}

// DepartmentFor resolves the reviewing department for a category.
func DepartmentFor(category string) string {
	if dept, ok := ServiceToDepartment[category]; ok {
		return dept
	}
	return DepartmentGeneral
}
