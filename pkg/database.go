package calodigi

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	sqlx "github.com/jmoiron/sqlx" //make alias name the package to sqlx
)

func ConnectToDatabase(user string, pass string, host string, dbname string) (*sqlx.DB, error) {
	port := "3306"
	dbURI := fmt.Sprintf("%s:%s@(%s:%s)/%s?parseTime=true", user, pass, host, port, dbname)
	db, err := sqlx.Connect("mysql", dbURI)
	return db, err
}

type GeometryEntry struct {
	Version               string  `db:"Version"`
	NumLayers             int     `db:"NLayers"`
	ModulesPerLayer       int     `db:"NModulesPerLayer"`
	CellsPerModule        int     `db:"NCellsPerModule"`
	SecondOrderCorrection float64 `db:"SecondOrderCorrection"`
}

type LayerWeightEntry struct {
	Layer  int     `db:"Layer"`
	Weight float64 `db:"Weight"`
}

// DBGeometryProvider answers geometry lookups from the conditions database.
type DBGeometryProvider struct {
	DB *sqlx.DB
}

func (p DBGeometryProvider) Lookup(version string) (Dimensions, error) {
	query := "SELECT NLayers, NModulesPerLayer, NCellsPerModule FROM EcalGeometry WHERE Version = ?"
	if configuration.Verbosity > 2 {
		logger.Info(fmt.Sprintf("Query: %s [%s]", query, version), "database")
	}
	rows, err := p.DB.Queryx(query, version)
	if err != nil {
		return Dimensions{}, fmt.Errorf("error querying database: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Dimensions{}, fmt.Errorf("error querying database: %w", err)
		}
		return Dimensions{}, &ErrUnknownGeometryVersion{Version: version}
	}
	var dims Dimensions
	if err := rows.StructScan(&dims); err != nil {
		return Dimensions{}, fmt.Errorf("error scanning DB row: %w", err)
	}
	return dims, nil
}

// GeometryVersionForRun returns the geometry valid for a run number.
func GeometryVersionForRun(db *sqlx.DB, runNumber int) (string, error) {
	query := "SELECT Version FROM EcalGeometryRuns WHERE MinRun <= ? and MaxRun >= ?"
	if configuration.Verbosity > 2 {
		logger.Info(fmt.Sprintf("Query: %s [%d]", query, runNumber), "database")
	}
	var versions []string
	if err := db.Select(&versions, query, runNumber, runNumber); err != nil {
		return "", fmt.Errorf("error querying database: %w", err)
	}
	switch len(versions) {
	case 0:
		return "", fmt.Errorf("no geometry version valid for run %d", runNumber)
	case 1:
		return versions[0], nil
	default:
		return "", fmt.Errorf("%d geometry versions valid for run %d: %v", len(versions), runNumber, versions)
	}
}

// LoadProfiles registers every geometry of the conditions database with
// its layer weights.
func LoadProfiles(db *sqlx.DB, r *Registry) error {
	if configuration.Verbosity > 0 {
		logger.Info("Reading geometry profiles from database", "database")
	}
	rows, err := db.Queryx("SELECT Version, NLayers, NModulesPerLayer, NCellsPerModule, SecondOrderCorrection FROM EcalGeometry ORDER BY Version")
	if err != nil {
		return fmt.Errorf("error querying database: %w", err)
	}
	var geometries []GeometryEntry
	for rows.Next() {
		result := GeometryEntry{}
		if err := rows.StructScan(&result); err != nil {
			rows.Close()
			return fmt.Errorf("error scanning DB row: %w", err)
		}
		geometries = append(geometries, result)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error querying database: %w", err)
	}

	for _, g := range geometries {
		weights, err := getLayerWeightsFromDB(db, g.Version, g.NumLayers)
		if err != nil {
			return err
		}
		err = r.Register(g.Version, g.NumLayers, g.ModulesPerLayer, g.CellsPerModule, weights, g.SecondOrderCorrection)
		if err != nil {
			return err
		}
		if configuration.Verbosity > 1 {
			logger.Info(fmt.Sprintf("Geometry %s registered with %d layers", g.Version, g.NumLayers), "database")
		}
	}
	return nil
}

func getLayerWeightsFromDB(db *sqlx.DB, version string, numLayers int) ([]float64, error) {
	query := "SELECT Layer, Weight FROM EcalLayerWeights WHERE Version = ? ORDER BY Layer"
	if configuration.Verbosity > 2 {
		logger.Info(fmt.Sprintf("Query: %s [%s]", query, version), "database")
	}
	var entries []LayerWeightEntry
	if err := db.Select(&entries, query, version); err != nil {
		return nil, fmt.Errorf("error querying database: %w", err)
	}

	// Missing layers are reported by Register as a length mismatch
	weights := make([]float64, 0, numLayers)
	for i, entry := range entries {
		if entry.Layer != i {
			return nil, &ErrInvalidProfile{
				Version: version,
				Reason:  fmt.Sprintf("layer weights are not contiguous: expected layer %d, found %d", i, entry.Layer),
			}
		}
		weights = append(weights, entry.Weight)
	}
	return weights, nil
}
