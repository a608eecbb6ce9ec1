package sources

// Paid API prices in USD per call.
const (
	googlePlacesCostPerCall = 0.032
)

// DefaultSpecs returns the built-in source table.
func DefaultSpecs() []Spec {
	return []Spec{
		// Review platforms refresh daily.
		{
			Name: "bbb", Tier: TierReviews, Kind: KindTemplatedURL, Domain: "www.bbb.org",
			URLTemplate: "https://www.bbb.org/search?find_country=USA&find_text={name}&find_loc={location}",
			Parse:       ParseBBB,
		},
		{
			Name: "google", Tier: TierReviews, Kind: KindAPI, Domain: "places.googleapis.com",
			URLTemplate: "https://places.googleapis.com/v1/places:searchText",
			Parse:       ParseGooglePlaces,
			CostPerCall: googlePlacesCostPerCall,
		},
		{
			Name: "yelp", Tier: TierReviews, Kind: KindTemplatedURL, Domain: "www.yelp.com",
			URLTemplate: "https://www.yelp.com/search?find_desc={name}&find_loc={location}",
			Parse:       ParseReviewPlatform,
		},
		{
			Name: "angi", Tier: TierReviews, Kind: KindTemplatedURL, Domain: "www.angi.com",
			URLTemplate: "https://www.angi.com/search?query={name}&location={location}",
			Parse:       ParseReviewPlatform,
		},
		{
			Name: "houzz", Tier: TierReviews, Kind: KindTemplatedURL, Domain: "www.houzz.com",
			URLTemplate: "https://www.houzz.com/professionals/searchDirectory?topicId=&query={name}&location={location}",
			Parse:       ParseReviewPlatform,
		},
		{
			Name: "trustpilot", Tier: TierReviews, Kind: KindTemplatedURL, Domain: "www.trustpilot.com",
			URLTemplate: "https://www.trustpilot.com/search?query={name}",
			Parse:       ParseReviewPlatform,
		},
		{
			Name: "facebook", Tier: TierReviews, Kind: KindCustomScraper, Domain: "www.facebook.com",
			URLTemplate: "https://www.facebook.com/search/pages/?q={name}%20{city}",
			Parse:       ParseReviewPlatform,
		},

		// Government and legal records refresh weekly.
		{
			Name: "state_license_board", Tier: TierGovernment, Kind: KindForm, Domain: "www.license-lookup.gov",
			URLTemplate: "https://www.license-lookup.gov/search",
			FormFields: map[string]string{
				"business_name": "{name}",
				"city":          "{city}",
				"state":         "{state}",
			},
			Parse:      ParseLicense,
			Sequential: true,
			Requests:   2,
		},
		{
			Name: "secretary_of_state", Tier: TierGovernment, Kind: KindForm, Domain: "www.sos-business-search.gov",
			URLTemplate: "https://www.sos-business-search.gov/entity-search",
			FormFields: map[string]string{
				"entity_name": "{name}",
				"state":       "{state}",
			},
			Parse:      ParseEntityRegistration,
			Sequential: true,
			Requests:   2,
		},
		{
			Name: "court_records", Tier: TierGovernment, Kind: KindAPI, Domain: "www.courtlistener.com",
			URLTemplate: "https://www.courtlistener.com/api/rest/v4/search/?type=r&q=%22{name}%22",
			Parse:       ParseCourtListener,
		},
		{
			Name: "osha", Tier: TierGovernment, Kind: KindTemplatedURL, Domain: "www.osha.gov",
			URLTemplate: "https://www.osha.gov/ords/imis/establishment.search?establishment={name}&state={state}&officetype=all&Office=all&sitezip=&startmonth=01&startday=01&startyear=2015&endmonth=12&endday=31&endyear=2030&p_case=all&p_violations_exist=all",
			Parse:       ParseOSHA,
		},

		// News refreshes twice daily.
		{
			Name: "news", Tier: TierNews, Kind: KindAPI, Domain: "news.google.com",
			URLTemplate: "https://news.google.com/rss/search?q=%22{name}%22+{city}&hl=en-US&gl=US&ceid=US:en",
			Parse:       ParseNewsRSS,
		},
	}
}

// DefaultRegistry returns the built-in registry.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultSpecs()...)
	if err != nil {
		panic("sources: invalid built-in registry: " + err.Error())
	}
	return r
}
